// Package flagx lets several components parse their own flags out of the
// same os.Args without tripping over each other.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// configFlags name the config file in every accepted spelling.
var configFlags = []string{"-c", "-config", "--config"}

// token is one flag occurrence: the flag argument itself plus its value
// when the value was passed as a separate argument.
type token struct {
	args []string
	name string
}

// scan splits args into flag tokens and positional arguments. A dash-prefixed
// argument is a flag; "-f=v" carries its own value, otherwise the next
// argument is taken as the value unless it is itself a flag.
func scan(args []string) (flags []token, positional []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}

		if name, _, ok := strings.Cut(arg, "="); ok {
			flags = append(flags, token{args: []string{arg}, name: name})
			continue
		}

		tok := token{args: []string{arg}, name: arg}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			tok.args = append(tok.args, args[i+1])
			i++
		}
		flags = append(flags, tok)
	}
	return flags, positional
}

// FilterArgs keeps only the flags named in allowedFlags, with their values,
// in their original order. Both "-c conf.json" and "--config=conf.json"
// forms are recognised.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	flags, _ := scan(args)
	filtered := make([]string, 0, len(args))
	for _, tok := range flags {
		if allowed[tok.name] {
			filtered = append(filtered, tok.args...)
		}
	}
	return filtered
}

// Positional returns args with every flag and its value removed.
func Positional(args []string) []string {
	_, positional := scan(args)
	return positional
}

// ConfigFileFlag returns the config file path given via -c or -config
// (JSON or YAML), or "" when neither is present. Other arguments, including
// cobra subcommand names, are ignored.
func ConfigFileFlag() string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(os.Args[1:], configFlags))

	return path
}
