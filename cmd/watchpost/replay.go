package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/watchpost/internal/assess"
	"github.com/opensource-finance/watchpost/internal/cache"
	"github.com/opensource-finance/watchpost/internal/config"
	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/opensource-finance/watchpost/internal/explain"
	"github.com/opensource-finance/watchpost/internal/rules"
	"github.com/opensource-finance/watchpost/internal/velocity"
)

var (
	replayHome     string
	replayExplain  string
	replayStrategy string
	replayNoRules  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml|scenario.json>",
	Short: "Assess a recorded scenario offline and print each decision",
	Long: `Replay reads a scenario of events (YAML or JSON), runs every event
through the reasoning pipeline in order and prints one assessment block per
event. A scenario is either a list of events or an object with "home",
optional "strategy" and "events".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		sc, err := parseScenario(data)
		if err != nil {
			return fmt.Errorf("failed to parse scenario %s: %w", args[0], err)
		}
		return replay(cmd.Context(), sc, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayHome, "home", "", "home ID for events that do not carry one")
	replayCmd.Flags().StringVar(&replayExplain, "explain", string(domain.ExplainFull), "explanation level: none, summary or full")
	replayCmd.Flags().StringVar(&replayStrategy, "strategy", "", "decision strategy override: static or contextual")
	replayCmd.Flags().BoolVar(&replayNoRules, "no-rules", false, "skip the default context rules")
}

// scenario is a recorded sequence of events.
type scenario struct {
	Home     string          `json:"home"`
	Strategy domain.Strategy `json:"strategy,omitempty"`
	Events   []domain.Event  `json:"events"`
}

// parseScenario accepts YAML or JSON. Keys follow the event JSON names.
func parseScenario(data []byte) (*scenario, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if list, ok := raw.([]any); ok {
		raw = map[string]any{"events": list}
	}

	// Round-trip through JSON so the event struct tags apply
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	sc := &scenario{}
	if err := json.Unmarshal(buf, sc); err != nil {
		return nil, err
	}
	if len(sc.Events) == 0 {
		return nil, fmt.Errorf("scenario has no events")
	}
	return sc, nil
}

// replayResult tallies a replay run.
type replayResult struct {
	Assessed   int
	Rejected   int
	Sent       int
	Suppressed int
}

func replay(ctx context.Context, sc *scenario, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stderr))

	reasoning := cfg.Reasoning
	if sc.Strategy != "" {
		reasoning.Strategy = sc.Strategy
	}
	if replayStrategy != "" {
		reasoning.Strategy = domain.Strategy(replayStrategy)
	}

	level, err := domain.ParseExplainLevel(replayExplain)
	if err != nil {
		return err
	}

	var opts []assess.Option
	if !replayNoRules {
		sightings := velocity.NewService(cache.NewLRUCache(1000), time.Duration(reasoning.CorrelationWindowSeconds*float64(time.Second)))
		engine, err := rules.NewEngine(sightings.GetSightingGetter(), 4)
		if err != nil {
			return err
		}
		defer engine.Close()
		if err := engine.LoadRules(rules.DefaultContextRules()); err != nil {
			return err
		}
		opts = append(opts, assess.WithRules(engine))
	}

	assessor, err := assess.FromConfig(reasoning, opts...)
	if err != nil {
		return err
	}

	res, err := replayEvents(ctx, assessor, sc, level, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Replayed %d events: %d assessed, %d rejected, %d alerts sent, %d suppressed\n",
		len(sc.Events), res.Assessed, res.Rejected, res.Sent, res.Suppressed)
	return nil
}

func replayEvents(ctx context.Context, assessor *assess.Assessor, sc *scenario, level domain.ExplainLevel, out io.Writer) (replayResult, error) {
	var res replayResult
	for i, ev := range sc.Events {
		if ev.HomeID == "" {
			ev.HomeID = sc.Home
		}
		if ev.HomeID == "" {
			ev.HomeID = replayHome
		}
		if ev.HomeID == "" {
			ev.HomeID = "replay"
		}

		a, err := assessor.Assess(ctx, ev, level)
		if err != nil {
			res.Rejected++
			fmt.Fprintf(out, "event %d rejected: %v\n\n", i, err)
			continue
		}
		res.Assessed++
		switch a.Suppression.Status {
		case domain.SuppressionSend:
			res.Sent++
		case domain.SuppressionSuppressed:
			res.Suppressed++
		}

		if _, err := io.WriteString(out, explain.FormatBlock(a)+"\n"); err != nil {
			return res, err
		}
	}
	return res, nil
}
