package generator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/abaquiz/backend/internal/models"
)

// ErrContentMissing means none of an area's grounding files exist.
var ErrContentMissing = errors.New("generator: study content missing")

const contentSeparator = "\n\n---\n\n"

// AreaFiles names the markdown files, relative to the content directory,
// that ground each area. The core files span several areas.
var AreaFiles = map[models.ContentArea][]string{
	models.AreaPhilosophicalUnderpinnings: {"core/task_list.md", "core/handbook.md"},
	models.AreaConceptsAndPrinciples:      {"core/task_list.md", "reference/glossary.md"},
	models.AreaMeasurement:                {"core/task_list.md", "core/tco.md"},
	models.AreaExperimentalDesign:         {"core/task_list.md", "core/tco.md"},
	models.AreaEthics:                     {"ethics/ethics_code.md", "core/handbook.md"},
	models.AreaBehaviorAssessment:         {"core/task_list.md", "core/tco.md"},
	models.AreaBehaviorChangeProcedures:   {"core/task_list.md", "reference/glossary.md"},
	models.AreaInterventions:              {"core/task_list.md", "core/tco.md"},
	models.AreaSupervision:                {"supervision/curriculum.md", "core/handbook.md"},
}

// ContentLoader reads and caches each area's study content. Files are read
// once per area; an area with no files is re-checked on the next call.
type ContentLoader struct {
	dir string

	mu    sync.Mutex
	cache map[models.ContentArea]string
}

func NewContentLoader(dir string) *ContentLoader {
	return &ContentLoader{dir: dir, cache: make(map[models.ContentArea]string)}
}

func (l *ContentLoader) Load(area models.ContentArea) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if content, ok := l.cache[area]; ok {
		return content, nil
	}

	var parts []string
	for _, rel := range AreaFiles[area] {
		data, err := os.ReadFile(filepath.Join(l.dir, rel))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", rel, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %s (looked in %s)", ErrContentMissing, area, l.dir)
	}

	content := strings.Join(parts, contentSeparator)
	l.cache[area] = content
	return content, nil
}
