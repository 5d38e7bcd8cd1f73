package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/credengine/internal/config"
	"github.com/sells-group/credengine/internal/engine"
	"github.com/sells-group/credengine/internal/model"
	"github.com/sells-group/credengine/internal/server"
	"github.com/sells-group/credengine/internal/sink"
	"github.com/sells-group/credengine/internal/store"
)

// scenario is a scripted sequence of page events replayed against a fresh
// engine over an in-memory store.
type scenario struct {
	Name    string                   `yaml:"name"`
	Seed    []model.StoredCredential `yaml:"seed"`
	Events  []scenarioEvent          `yaml:"events"`
	Queries []scenarioQuery          `yaml:"queries"`
}

type scenarioEvent struct {
	Type           string               `yaml:"type"`
	Forms          []model.ObservedForm `yaml:"forms"`
	Form           model.ObservedForm   `yaml:"form"`
	DidStopLoading bool                 `yaml:"did_stop_loading"`
	Accept         bool                 `yaml:"accept"`
}

type scenarioQuery struct {
	SignonRealm string       `yaml:"signon_realm"`
	Scheme      model.Scheme `yaml:"scheme"`
}

// scenarioReport is what a replay prints.
type scenarioReport struct {
	Name          string                     `json:"name"`
	Submissions   []string                   `json:"submissions,omitempty"`
	Prompts       []engine.PromptRequest     `json:"prompts,omitempty"`
	Notifications []model.StoredCredential   `json:"notifications,omitempty"`
	Units         []engine.UnitSnapshot      `json:"units,omitempty"`
	Stored        []model.StoredCredential   `json:"stored,omitempty"`
	Fills         map[string]engine.FillData `json:"fills,omitempty"`
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [scenario.yaml...]",
	Short: "Replay scripted page event scenarios",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("simulate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		reports := make([]*scenarioReport, len(args))
		g, gctx := errgroup.WithContext(ctx)
		for i, path := range args {
			g.Go(func() error {
				report, err := runScenario(gctx, path, cfg.Engine)
				if err != nil {
					return eris.Wrapf(err, "scenario %s", path)
				}
				reports[i] = report
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		for _, report := range reports {
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "encode report")
			}
		}
		return nil
	},
}

// taskQueue makes store result delivery explicit: queued tasks run only when
// the replay pumps them between events.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) enqueue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, fn)
}

func (q *taskQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}

func runScenario(ctx context.Context, path string, engCfg config.EngineConfig) (*scenarioReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read scenario")
	}
	var sc scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, eris.Wrap(err, "parse scenario")
	}

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}
	for i := range sc.Seed {
		if err := st.AddLogin(ctx, &sc.Seed[i]); err != nil {
			return nil, eris.Wrap(err, "seed credential")
		}
	}

	queue := &taskQueue{}
	client := server.NewPolicyClient(engCfg)
	driver := server.NewFillRecorder()
	eng := engine.New(st, sink.New(st), client, driver, engine.Options{
		OtherPossibleUsernamesEnabled: engCfg.OtherPossibleUsernamesEnabled,
		PromptDismissThreshold:        engCfg.PromptDismissThreshold,
		RunAsync:                      queue.enqueue,
	})

	report := &scenarioReport{Name: sc.Name}
	for _, ev := range sc.Events {
		switch ev.Type {
		case "parsed":
			eng.OnFormsParsed(ctx, ev.Forms)
		case "submitted":
			reason := eng.OnFormSubmitted(ctx, ev.Form)
			report.Submissions = append(report.Submissions, reason.String())
		case "rendered":
			eng.OnFormsRendered(ctx, ev.Forms, ev.DidStopLoading)
		case "navigated":
			eng.DidNavigateMainFrame()
		case "generated":
			eng.OnGeneratedPasswordAccepted(ev.Form)
		case "store_changed":
			eng.InformStoreChanged(ctx)
		case "resolve_prompts":
			for _, p := range client.OpenPrompts() {
				if _, ok := client.TakePrompt(p.UnitID); !ok {
					continue
				}
				if err := eng.ResolvePrompt(ctx, p.UnitID, ev.Accept); err != nil {
					zap.L().Warn("simulate: resolve prompt", zap.Error(err))
				}
			}
		default:
			return nil, eris.Errorf("unknown event type: %s", ev.Type)
		}
		queue.pump()
	}
	queue.pump()

	report.Prompts = client.OpenPrompts()
	report.Notifications = client.Notifications()
	report.Units = eng.Units()
	report.Fills = driver.Fills()

	for _, q := range sc.Queries {
		creds, err := st.GetLogins(ctx, q.SignonRealm, q.Scheme)
		if err != nil {
			return nil, eris.Wrapf(err, "query %s", q.SignonRealm)
		}
		report.Stored = append(report.Stored, creds...)
	}
	return report, nil
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}
