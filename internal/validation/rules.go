package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmrzaf/etlflow/internal/timeutil"
)

// Custom validator tags registered on every RowValidator.
const (
	tagDate    = "date_value"
	tagInteger = "integer_value"
)

// TranslateRule converts a pipe-separated rule expression such as
// "required|email|max:255|in:a,b" into a validator tag. Expressions that already look
// like validator tags ("required,max=10") are returned unchanged.
func TranslateRule(rule string) (string, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return "", nil
	}
	if !strings.ContainsAny(rule, ":|") && strings.ContainsAny(rule, "=,") {
		return rule, nil
	}

	var (
		tags     []string
		required bool
	)
	for _, part := range strings.Split(rule, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, param, _ := strings.Cut(part, ":")
		switch name {
		case "required":
			required = true
		case "nullable", "sometimes", "string", "filled", "present":
		case "email", "url", "uuid", "alpha", "boolean", "numeric", "ip", "ipv4", "ipv6", "json", "lowercase", "uppercase":
			tags = append(tags, name)
		case "alpha_num":
			tags = append(tags, "alphanum")
		case "integer", "int":
			tags = append(tags, tagInteger)
		case "date":
			tags = append(tags, tagDate)
		case "min", "max", "size":
			n, err := number(name, param)
			if err != nil {
				return "", err
			}
			op := name
			if name == "size" {
				op = "len"
			}
			tags = append(tags, op+"="+n)
		case "between":
			lo, hi, ok := strings.Cut(param, ",")
			if !ok {
				return "", fmt.Errorf("rule between requires two values: %q", part)
			}
			loN, err := number(name, lo)
			if err != nil {
				return "", err
			}
			hiN, err := number(name, hi)
			if err != nil {
				return "", err
			}
			tags = append(tags, "min="+loN, "max="+hiN)
		case "digits":
			n, err := number(name, param)
			if err != nil {
				return "", err
			}
			tags = append(tags, "number", "len="+n)
		case "in":
			if strings.TrimSpace(param) == "" {
				return "", fmt.Errorf("rule in requires values")
			}
			values := strings.Split(param, ",")
			for i, v := range values {
				v = strings.TrimSpace(v)
				if strings.ContainsAny(v, " \t") {
					v = "'" + v + "'"
				}
				values[i] = v
			}
			tags = append(tags, "oneof="+strings.Join(values, " "))
		default:
			return "", fmt.Errorf("unsupported validation rule: %s", name)
		}
	}

	if required {
		tags = append([]string{"required"}, tags...)
	} else {
		tags = append([]string{"omitempty"}, tags...)
	}
	return strings.Join(tags, ","), nil
}

func number(rule, s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", fmt.Errorf("rule %s requires a number, got %q", rule, s)
	}
	return s, nil
}

func registerCustom(v *validator.Validate) {
	_ = v.RegisterValidation(tagDate, func(fl validator.FieldLevel) bool {
		switch val := fl.Field().Interface().(type) {
		case time.Time:
			return !val.IsZero()
		case string:
			_, err := timeutil.ParseDate(val, time.Now())
			return err == nil
		default:
			return false
		}
	})
	_ = v.RegisterValidation(tagInteger, func(fl validator.FieldLevel) bool {
		switch val := fl.Field().Interface().(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return val == float64(int64(val))
		case string:
			_, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			return err == nil
		default:
			return false
		}
	})
}

// message renders one failed tag in the wording the import reports use.
func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", field)
	case "url":
		return fmt.Sprintf("The %s field must be a valid URL.", field)
	case "uuid":
		return fmt.Sprintf("The %s field must be a valid UUID.", field)
	case "numeric", "number":
		return fmt.Sprintf("The %s field must be a number.", field)
	case tagInteger:
		return fmt.Sprintf("The %s field must be an integer.", field)
	case tagDate:
		return fmt.Sprintf("The %s field must be a valid date.", field)
	case "boolean":
		return fmt.Sprintf("The %s field must be true or false.", field)
	case "min":
		return fmt.Sprintf("The %s field must be at least %s.", field, fe.Param())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s.", field, fe.Param())
	case "len":
		return fmt.Sprintf("The %s field must be %s long.", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", field)
	default:
		return fmt.Sprintf("The %s field failed the %s rule.", field, fe.Tag())
	}
}
