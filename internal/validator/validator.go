package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	trans     ut.Translator
	setupOnce sync.Once

	entryTokenPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	questionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// customTags are the domain validations registered next to the built-in ones,
// each with its English message.
var customTags = []struct {
	tag     string
	fn      govalidator.Func
	message string
}{
	{"entry_token", matches(entryTokenPattern), "{0} must contain only letters and digits"},
	{"question_id", matches(questionIDPattern), "{0} is not a valid question id"},
}

func matches(re *regexp.Regexp) govalidator.Func {
	return func(fl govalidator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Setup installs JSON field naming, the domain tags and English translations
// on Gin's binding engine. Struct and Bind call it on first use; calling it
// again is a no-op.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		for _, ct := range customTags {
			_ = v.RegisterValidation(ct.tag, ct.fn)
			message := ct.message
			_ = v.RegisterTranslation(ct.tag, trans,
				func(u ut.Translator) error { return u.Add(ct.tag, message, true) },
				func(u ut.Translator, fe govalidator.FieldError) string {
					t, _ := u.T(fe.Tag(), fe.Field())
					return t
				},
			)
		}
	})
}

// TranslateErrors maps a binding error to field name -> message. Errors that
// are not validation errors, such as malformed JSON, land under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		if trans == nil {
			fields[fe.Field()] = fe.Error()
			continue
		}
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Struct validates v against its binding tags. WebSocket messages use it
// since they bypass request binding.
func Struct(v interface{}) error {
	Setup()
	return binding.Validator.ValidateStruct(v)
}

// Bind decodes the JSON body into dst and validates it, returning the
// translated field errors or nil.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	Setup()
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
