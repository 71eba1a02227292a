package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
)

// locateMappingFile finds the rule file by name, checking the current
// working directory first and falling back to the directory containing the
// running executable. Both checks failing is fatal to the process.
func locateMappingFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("mapping file %q not found in working directory or executable directory", name)
}
