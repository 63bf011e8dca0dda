package program

import (
	"strings"

	"sandkasten-go/internal/apierr"
)

// ValidateFiles checks the shared auxiliary-file rules: count bound,
// per-file name pattern, content size, and pairwise-unique names that are
// also disjoint from mainFileName (when provided).
func ValidateFiles(files []File, mainFileName string) error {
	if len(files) > MaxAuxFiles {
		return apierr.New(apierr.KindInvalidFileNames, "too many auxiliary files")
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if !ValidFileName(f.Name) {
			return apierr.WithDetails(apierr.KindInvalidFileNames, "invalid file name", f.Name)
		}
		if len(f.Content) > MaxFileContent {
			return apierr.WithDetails(apierr.KindInvalidFileNames, "file content too large", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return apierr.WithDetails(apierr.KindConflictingFilenames, "duplicate auxiliary file name", f.Name)
		}
		seen[f.Name] = struct{}{}
		if mainFileName != "" && f.Name == mainFileName {
			return apierr.WithDetails(apierr.KindConflictingFilenames, "auxiliary file collides with main file", f.Name)
		}
	}
	return nil
}

// ValidateEnvVars checks spec.md's env-var rules.
func ValidateEnvVars(vars []EnvVar) error {
	if len(vars) > MaxEnvVars {
		return apierr.New(apierr.KindInvalidEnvVars, "too many environment variables")
	}
	seen := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		if !ValidEnvName(v.Name) {
			return apierr.WithDetails(apierr.KindInvalidEnvVars, "invalid env var name", v.Name)
		}
		if len(v.Value) > MaxEnvValueLen || strings.ContainsRune(v.Value, 0) {
			return apierr.WithDetails(apierr.KindInvalidEnvVars, "invalid env var value", v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return apierr.WithDetails(apierr.KindInvalidEnvVars, "duplicate env var name", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}

// ValidateBuildRequest validates everything about a BuildRequest that
// doesn't require resolving against an Environment yet (main-file/aux-file
// collision is checked once the default main file name is known).
func ValidateBuildRequest(req BuildRequest) error {
	if req.MainFile.Name != nil && !ValidFileName(*req.MainFile.Name) {
		return apierr.WithDetails(apierr.KindInvalidFileNames, "invalid main file name", *req.MainFile.Name)
	}
	if len(req.MainFile.Content) > MaxFileContent {
		return apierr.New(apierr.KindInvalidFileNames, "main file content too large")
	}
	if err := ValidateFiles(req.Files, ""); err != nil {
		return err
	}
	return ValidateEnvVars(req.EnvVars)
}

// ValidateRunRequest validates a RunRequest's fields.
func ValidateRunRequest(req RunRequest) error {
	if req.Stdin != nil && len(*req.Stdin) > MaxStdinBytes {
		return apierr.New(apierr.KindInvalidFileNames, "stdin too large")
	}
	if len(req.Args) > MaxArgs {
		return apierr.New(apierr.KindInvalidFileNames, "too many args")
	}
	for _, a := range req.Args {
		if len(a) > MaxArgLen || strings.ContainsRune(a, 0) {
			return apierr.New(apierr.KindInvalidFileNames, "invalid arg")
		}
	}
	if err := ValidateFiles(req.Files, ""); err != nil {
		return err
	}
	return ValidateEnvVars(req.EnvVars)
}
