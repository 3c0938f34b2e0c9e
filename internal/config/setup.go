package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunProfileWizard interactively builds a profile, validates it and saves
// it into cfg. Input is read line by line from in; prompts go to out.
func RunProfileWizard(cfg *Config, in io.Reader, out io.Writer) (Profile, error) {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "── New RCON Profile ──")

	p := Profile{
		Host:       DefaultHost,
		Port:       25575,
		TimeoutSec: DefaultTimeoutSec,
	}

	for {
		p.Name = promptString(reader, out, "Profile name", p.Name)
		p.Host = promptString(reader, out, "Server host", p.Host)
		p.Port = promptInt(reader, out, "RCON port", p.Port)
		p.Password = promptPassword(reader, out, "RCON password")
		p.TimeoutSec = promptInt(reader, out, "Timeout (seconds)", p.TimeoutSec)

		result := ValidateProfile(p)
		for _, w := range result.Warnings {
			log.Warn().Str("field", w.Field).Msg(w.Message)
		}
		if result.IsValid() {
			break
		}

		fmt.Fprintln(out, "\n⚠ Profile has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) != "yes" {
			return Profile{}, fmt.Errorf("profile validation failed")
		}
	}

	makeDefault := promptBool(reader, out, "Make this the default profile", len(cfg.GetProfiles()) == 0)

	cfg.SetProfile(p)
	if makeDefault {
		cfg.mu.Lock()
		cfg.DefaultProfile = p.Name
		cfg.mu.Unlock()
	}

	if err := cfg.Save(); err != nil {
		return Profile{}, fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\n✓ Profile %q saved to %s\n", p.Name, cfg.Path())
	return p, nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimRight(input, "\r\n")
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
