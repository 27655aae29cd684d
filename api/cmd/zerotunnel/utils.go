package zerotunnel

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
)

func getCommandLineExecutable() string {
	return os.Args[0]
}

func FatalErrorHandler(cmd *cobra.Command, msg string, code int) {
	if len(msg) > 0 {
		// add newline if needed
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		cmd.Print(msg)
	}
	os.Exit(code)
}

// generateEnvHelpText lists the environment variables of an envconfig
// struct, recursing into nested structs.
func generateEnvHelpText(cfg interface{}, prefix string) string {
	var helpTextBuilder strings.Builder

	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldType := field.Type
		if fieldType.Kind() == reflect.Struct {
			helpTextBuilder.WriteString(fmt.Sprintf("\n%s - %s\n\n", prefix, field.Name))
			helpTextBuilder.WriteString(generateEnvHelpText(reflect.New(fieldType).Interface(), prefix+" "))
			continue
		}

		envVar := field.Tag.Get("envconfig")
		if envVar == "" {
			continue
		}
		description := field.Tag.Get("description")
		defaultValue := field.Tag.Get("default")
		if field.Tag.Get("required") == "true" {
			helpTextBuilder.WriteString(fmt.Sprintf("%s  %s: %s (required)\n", prefix, envVar, description))
		} else {
			helpTextBuilder.WriteString(fmt.Sprintf("%s  %s: %s (default: \"%s\")\n", prefix, envVar, description, defaultValue))
		}
	}

	return helpTextBuilder.String()
}
