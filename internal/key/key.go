package key

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

var ignoreFiles = []string{
	".DS_Store",
	"Thumbs.db",
	".git",
	".keep",
}

// Template expands a blob name template for the artifact id using the OS
// environment.
func Template(id, name string) (string, error) {
	return TemplateWithEnv(id, name, nil)
}

// TemplateWithEnv expands a blob name template. The template can call
// id, env "NAME" and checksum "glob"... A nil env reads the OS environment.
func TemplateWithEnv(id, name string, env map[string]string) (string, error) {
	tpl := template.New("blob").Option("missingkey=zero").Funcs(template.FuncMap{
		"id":       getID(id),
		"checksum": checksumPaths(),
		"env":      getEnvWithMap(env),
	})
	tpl, err := tpl.Parse(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	err = tpl.Execute(&sb, nil)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(sb.String()), nil
}

func getID(id string) func() string {
	return func() string {
		return strings.TrimSpace(id)
	}
}

func getEnvWithMap(envMap map[string]string) func(string) string {
	return func(key string) string {
		var env string
		if envMap != nil {
			env = envMap[key]
		} else {
			env = os.Getenv(key)
		}

		return strings.TrimSpace(env)
	}
}

// checksumPaths hashes every file matched by the patterns into a single
// sha256. It returns an empty string when nothing matches.
func checksumPaths() func(patterns ...string) string {
	return func(patterns ...string) string {
		if len(patterns) == 0 {
			return ""
		}

		files, err := ResolveFiles(patterns)
		if err != nil {
			log.Error().Err(err).Strs("patterns", patterns).Msg("error resolving files")
			return ""
		}

		if len(files) == 0 {
			log.Warn().Strs("patterns", patterns).Msg("no files found for patterns")
			return ""
		}

		h := sha256.New()
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				log.Error().Err(err).Str("file", file).Msg("error reading file")
				return ""
			}
			fileSum := sha256.Sum256(data)
			h.Write(fileSum[:])
		}

		return fmt.Sprintf("%x", h.Sum(nil))
	}
}

// ResolveFiles returns the sorted, de-duplicated regular files matched by any
// of the doublestar patterns, skipping well known junk files.
func ResolveFiles(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to glob %q: %w", pattern, err)
		}

		for _, match := range matches {
			if isIgnored(match) {
				continue
			}
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			result = append(result, match)
		}
	}

	sort.Strings(result)

	return result, nil
}

func isIgnored(path string) bool {
	base := filepath.Base(path)
	for _, ignore := range ignoreFiles {
		if base == ignore {
			return true
		}
	}
	return false
}
