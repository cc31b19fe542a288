package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"ad-traffic-router/internal/targets"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type file struct {
	Targets []map[string]any `yaml:"targets"`
}

// Load reads targets from a YAML file of the form
//
//	targets:
//	  - id: "1"
//	    url: http://example.com
//	    maxAcceptsPerDay: 10
//	    accept:
//	      geoState: {$in: [ny]}
//	      hour: {$in: ["10", "11"]}
func Load(path string) ([]targets.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file %s: %w", path, err)
	}
	defer f.Close()

	var doc file
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}

	out := make([]targets.Target, 0, len(doc.Targets))
	for i, entry := range doc.Targets {
		// go through JSON so the seed obeys the same rules as the API
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("seed target #%d: %w", i, err)
		}
		t, err := targets.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("seed target #%d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

type creator interface {
	Create(ctx context.Context, t targets.Target) error
}

// Apply registers every target that is not registered yet. It returns the
// number of targets created.
func Apply(ctx context.Context, reg creator, ts []targets.Target) (int, error) {
	created := 0
	for _, t := range ts {
		err := reg.Create(ctx, t)
		switch {
		case err == nil:
			created++
		case errors.Is(err, targets.ErrAlreadyExists):
			log.Debug().Str("target", t.ID).Msg("seed target already registered")
		default:
			return created, fmt.Errorf("seed target %s: %w", t.ID, err)
		}
	}
	return created, nil
}
