package prompt

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemContext is written to the context file when it does not exist.
const DefaultSystemContext = "You are a helpful and concise AI assistant."

// LoadSystemContext reads the system context from path, creating the file
// with DefaultSystemContext when absent. The result is trimmed and constant
// for the process lifetime.
func LoadSystemContext(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := os.WriteFile(path, []byte(DefaultSystemContext), 0o644); werr != nil {
			return "", fmt.Errorf("write default context file %q: %w", path, werr)
		}
		return DefaultSystemContext, nil
	}
	if err != nil {
		return "", fmt.Errorf("read context file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
