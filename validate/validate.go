// Command validate checks the room preset JSON files in a config directory
// (configs/rooms by default). It checks:
//   - JSON structure, with unknown fields rejected
//   - The room id is present and matches the file name
//   - Rounds and every timer are usable (config.ValidateRoomConfig)
//   - The continue window ends before the idle timeout fires
//   - The disconnect grace does not outlast the idle timeout
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/koikoi/game/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateConfig loads and validates a single room file.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var room config.RoomConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&room); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}

	expectedID := strings.ToUpper(strings.TrimSuffix(result.File, filepath.Ext(result.File)))
	switch {
	case strings.TrimSpace(room.ID) == "":
		result.fail("Missing id (expected %q)", expectedID)
	case strings.ToUpper(room.ID) != expectedID:
		result.fail("Id %q does not match file name (expected %q)", room.ID, expectedID)
	}

	if strings.TrimSpace(room.Name) == "" {
		result.fail("Missing name")
	}

	if room.ID != "" {
		if err := config.ValidateRoomConfig(&room); err != nil {
			result.fail("%v", err)
		}
	}

	if room.IdleSeconds > 0 && room.ContinueTimeout() >= room.IdleTimeout() {
		result.fail("Continue window %s must be shorter than idle timeout %s",
			room.ContinueTimeout(), room.IdleTimeout())
	}
	if room.IdleSeconds > 0 && room.DisconnectSeconds > room.IdleSeconds {
		result.fail("Disconnect grace %s outlasts idle timeout %s",
			room.DisconnectTimeout(), room.IdleTimeout())
	}

	if result.Valid {
		result.Errors = append(result.Errors,
			fmt.Sprintf("✓ %d rounds, %s per action, bots: %t", room.Rounds, room.ActionTimeout(), room.BotFallback))
	}
	return result
}

// main scans the config directory for *.json files and validates each one,
// printing a concise report and exiting with non-zero status if any are
// invalid.
func main() {
	configDir := "configs/rooms"
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(configDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding config files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Printf("No room files in %s\n", configDir)
		return
	}

	allValid := true
	for _, file := range files {
		result := validateConfig(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All room configurations are valid!")
	} else {
		fmt.Println("❌ Some room configurations have errors")
		os.Exit(1)
	}
}
