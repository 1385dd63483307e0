package api

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"grimm.is/vpnadmin/internal/firewall"
	"grimm.is/vpnadmin/internal/users"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names instead of Go ones.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("chain", func(fl validator.FieldLevel) bool {
		return firewall.ValidChain(fl.Field().String())
	})
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return users.ValidateUsername(fl.Field().String()) == nil
	})
}

// describeValidation flattens validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+": "+rule)
	}
	return strings.Join(parts, "; ")
}

type addUserRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required"`
}

type updateUserRequest struct {
	Password string `json:"password" validate:"required"`
}

type pathRequest struct {
	Path string `json:"path" validate:"required"`
}

type writeFileRequest struct {
	Path    string  `json:"path" validate:"required"`
	Content *string `json:"content" validate:"required"`
}

type createFileRequest struct {
	Path      string `json:"path" validate:"required"`
	Content   string `json:"content"`
	Exclusive bool   `json:"exclusive"`
}

type addRuleRequest struct {
	Chain string `json:"chain" validate:"required,chain"`
	Rule  string `json:"rule" validate:"required"`
}

type removeRuleRequest struct {
	Chain       string  `json:"chain" validate:"required,chain"`
	RuleNumber  ruleNum `json:"ruleNumber" validate:"required_without=Fingerprint,omitempty,min=1"`
	Fingerprint string  `json:"fingerprint" validate:"omitempty,hexadecimal,len=16"`
}

type executeRequest struct {
	Command string   `json:"command" validate:"required"`
	Args    []string `json:"args" validate:"omitempty,max=64"`
}

// ruleNum accepts a rule number sent either as a JSON number or as a
// numeric string; the dashboard sends strings.
type ruleNum int

func (n *ruleNum) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("ruleNumber must be an integer, got %s", string(b))
	}
	*n = ruleNum(v)
	return nil
}
