package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/xnet/pkg/bufpool"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their config key rather than the Go name.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterStructValidation(validateBuffer, BufferConfig{})
	})
	return validate
}

// Validate checks cfg against its struct tags and the cross-field rules.
func Validate(cfg *Config) error {
	err := getValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace starts with the root type name.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed '%s=%s' (value %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed '%s' (value %v)", field, fe.Tag(), fe.Value())
}

// validateBuffer requires a class for stream chunks, since every connection
// draws its receive chunks from it, and forbids duplicate sizes.
func validateBuffer(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(BufferConfig)

	seen := make(map[uint64]bool, len(cfg.Classes))
	hasChunk := false
	for _, c := range cfg.Classes {
		if seen[c.Size.Uint64()] {
			sl.ReportError(cfg.Classes, "classes", "Classes", "unique_size", c.Size.String())
		}
		seen[c.Size.Uint64()] = true
		if c.Size.Int() == bufpool.ChunkSize {
			hasChunk = true
		}
	}
	if len(cfg.Classes) > 0 && !hasChunk {
		sl.ReportError(cfg.Classes, "classes", "Classes", "chunk_class", "4KiB")
	}
}
