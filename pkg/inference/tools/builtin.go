package tools

import (
	"context"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/memory"
	"github.com/pkg/errors"
)

type TimeNowInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name. Defaults to local time."`
}

type TimeNowOutput struct {
	Time     string `json:"time"`
	Unix     int64  `json:"unix"`
	Timezone string `json:"timezone"`
}

type MemoryRecallInput struct {
	Category string `json:"category" jsonschema:"description=Memory category,enum=family,enum=friends,enum=work,enum=health,enum=education,enum=entertainment,enum=other"`
}

type MemoryRecallOutput struct {
	Category string         `json:"category"`
	Entries  []memory.Entry `json:"entries"`
}

type MemoryRememberInput struct {
	Category string `json:"category" jsonschema:"description=Memory category,enum=family,enum=friends,enum=work,enum=health,enum=education,enum=entertainment,enum=other"`
	Text     string `json:"text" jsonschema:"description=Fact to remember"`
}

// RegisterBuiltins adds time.now and, when mem is set, memory.recall and
// memory.remember to registry.
func RegisterBuiltins(registry *InMemoryToolRegistry, mem *memory.Manager, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	timeNow, err := NewToolFromFunc("time.now", "Returns the current date and time.",
		func(in TimeNowInput) (TimeNowOutput, error) {
			loc := time.Local
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return TimeNowOutput{}, errors.Wrapf(err, "unknown timezone %q", in.Timezone)
				}
				loc = l
			}
			t := now().In(loc)
			return TimeNowOutput{Time: t.Format(time.RFC3339), Unix: t.Unix(), Timezone: loc.String()}, nil
		})
	if err != nil {
		return err
	}
	if err := registry.RegisterTool(timeNow.Name, *timeNow); err != nil {
		return err
	}

	if mem == nil {
		return nil
	}

	recall, err := NewToolFromFunc("memory.recall", "Lists what the assistant remembers about a category.",
		func(in MemoryRecallInput) (MemoryRecallOutput, error) {
			category, err := memory.NormalizeCategory(in.Category)
			if err != nil {
				return MemoryRecallOutput{}, err
			}
			entries, err := mem.Get(category)
			if err != nil {
				return MemoryRecallOutput{}, err
			}
			return MemoryRecallOutput{Category: category, Entries: entries}, nil
		})
	if err != nil {
		return err
	}
	if err := registry.RegisterTool(recall.Name, *recall); err != nil {
		return err
	}

	remember, err := NewToolFromFunc("memory.remember", "Stores a fact in a memory category.",
		func(ctx context.Context, in MemoryRememberInput) (memory.Entry, error) {
			category, err := memory.NormalizeCategory(in.Category)
			if err != nil {
				return memory.Entry{}, err
			}
			if in.Text == "" {
				return memory.Entry{}, errors.New("text must not be empty")
			}
			return mem.Append(ctx, category, in.Text)
		})
	if err != nil {
		return err
	}
	return registry.RegisterTool(remember.Name, *remember)
}
