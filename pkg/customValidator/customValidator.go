package customvalidator

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var sqlIdentifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type CustomValidator struct {
	Validator *validator.Validate
}

// NewCustomValidator returns a validator with the project tags registered:
//   - sqlident: lower-case SQL identifier, at most 63 characters
func NewCustomValidator() *CustomValidator {
	valCustom := validator.New()
	valCustom.RegisterValidation("sqlident", validateSQLIdentifier)
	return &CustomValidator{Validator: valCustom}
}

func validateSQLIdentifier(fl validator.FieldLevel) bool {
	return sqlIdentifierRegex.MatchString(fl.Field().String())
}

// IsSQLIdentifier reports whether name can be used unquoted as a table or column name
func IsSQLIdentifier(name string) bool {
	return sqlIdentifierRegex.MatchString(name)
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.Validator.Struct(i)
}

// Messages flattens validation errors into readable messages, one per failing field
func Messages(err error) []string {
	var message []string
	var castedObject validator.ValidationErrors
	if !errors.As(err, &castedObject) {
		return nil
	}
	for _, err := range castedObject {
		switch err.Tag() {
		case "required":
			message = append(message, fmt.Sprintf("%s is required", err.Namespace()))
		case "oneof":
			message = append(message, fmt.Sprintf("%s must be one of [%s]", err.Namespace(), err.Param()))
		case "sqlident":
			message = append(message, fmt.Sprintf("%s must be a lower-case sql identifier", err.Namespace()))
		case "timezone":
			message = append(message, fmt.Sprintf("%s is not a known timezone", err.Namespace()))
		case "gte":
			message = append(message, fmt.Sprintf("%s value must be greater than %s", err.Namespace(), err.Param()))
		case "lte":
			message = append(message, fmt.Sprintf("%s value must be lower than %s", err.Namespace(), err.Param()))
		default:
			message = append(message, fmt.Sprintf("%s failed on %s", err.Namespace(), err.Tag()))
		}
	}
	return message
}

// GrpcErrorHandler turns validation failures returned by a handler into InvalidArgument statuses
func GrpcErrorHandler() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, err
		}
		if message := Messages(err); len(message) > 0 {
			err = status.Errorf(codes.InvalidArgument, "%+v", message)
		}
		return resp, err
	}
}
