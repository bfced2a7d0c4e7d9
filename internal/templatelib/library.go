package templatelib

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chuffdetect/callsentry/internal/fingerprint"
	"github.com/chuffdetect/callsentry/internal/wavcodec"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

// Library holds every loaded Template plus the inverted hash index used by
// the detector's analyse step: hash -> template names sharing that hash.
type Library struct {
	Templates map[string]*Template
	HashIndex map[string][]string

	log *xlog.Logger
}

// Load reads every *.wav file in folder, rejecting any whose sample rate
// does not match wantSampleRate or that is not mono, and builds the
// cross-template hash index, warning on collisions the way the original
// loader's cross-template self-check does. Grounded on
// original_source/src/detector.py's load_templates.
func Load(folder string, wantSampleRate int, engine *fingerprint.Engine, log *xlog.Logger) (*Library, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("templatelib: read dir %s: %w", folder, err)
	}

	lib := &Library{
		Templates: make(map[string]*Template),
		HashIndex: make(map[string][]string),
		log:       log,
	}

	id := 0
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, fileName := range names {
		path := filepath.Join(folder, fileName)
		templateName := strings.TrimSuffix(fileName, ".wav")

		samples, format, err := wavcodec.ReadFile(path)
		if err != nil {
			log.Printf("skip %s: %v", fileName, err)
			continue
		}
		if format.SampleRate != wantSampleRate {
			log.Printf("skip %s: sample_rate=%d want=%d", fileName, format.SampleRate, wantSampleRate)
			continue
		}

		tmpl := newTemplate(id, templateName, format.SampleRate, samples, engine)
		id++
		lib.Templates[templateName] = tmpl
		lib.indexTemplate(tmpl)
	}

	lib.warnCrossTemplateCollisions()

	log.Printf("loaded %d templates, %d distinct hashes", len(lib.Templates), len(lib.HashIndex))
	return lib, nil
}

func (lib *Library) indexTemplate(tmpl *Template) {
	for h := range tmpl.Fingerprint.HashOffsets {
		names := lib.HashIndex[h]
		alreadyIndexed := false
		for _, n := range names {
			if n == tmpl.Name {
				alreadyIndexed = true
				break
			}
		}
		if alreadyIndexed {
			continue
		}
		lib.HashIndex[h] = append(names, tmpl.Name)
	}
}

// warnCrossTemplateCollisions runs every template against the full index
// with itself excluded, logging any template pair that would satisfy the
// match-acceptance rule against each other — a sign the library has two
// near-duplicate prompts. Mirrors load_templates' self-check call to
// analise_fingerprint with real_search=False.
func (lib *Library) warnCrossTemplateCollisions() {
	for name, tmpl := range lib.Templates {
		found, matchCount, _ := Analyse(tmpl.Fingerprint, lib.HashIndex, lib.Templates, name)
		if found != "" {
			lib.log.Printf("cross-template collision: %s <-> %s match_count=%d", name, found, matchCount)
		}
	}
}
