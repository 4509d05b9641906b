package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/audit"
	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/consensus"
	"github.com/sells-group/metaextract/internal/cost"
	"github.com/sells-group/metaextract/internal/qa"
	"github.com/sells-group/metaextract/internal/resilience"
	"github.com/sells-group/metaextract/internal/store"
	anthropicpkg "github.com/sells-group/metaextract/pkg/anthropic"
	"github.com/sells-group/metaextract/pkg/openaicompat"
)

// pipelineEnv holds the store, audit trail, cost tracker and vocabulary
// shared by the pipeline commands. One env lives for one run.
type pipelineEnv struct {
	Store   store.Store
	Audit   *audit.Logger
	Tracker *cost.Tracker
	Vocab   qa.Vocabulary
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Audit != nil {
		_ = pe.Audit.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv validates config for mode and opens the store and audit log.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	vocab, err := cfg.Quality.Vocabulary()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	auditLog, err := audit.New(cfg.Paths.Logs)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	zap.L().Info("pipeline environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("run_id", auditLog.RunID()),
		zap.String("audit_log", auditLog.Path()),
	)

	return &pipelineEnv{
		Store:   st,
		Audit:   auditLog,
		Tracker: cost.NewTracker(cfg.Pricing),
		Vocab:   vocab,
	}, nil
}

// buildVerifiers creates one verifier per configured model, in the order
// claude, gpt4o, groq. Each retries transient failures under retry.
func buildVerifiers(models config.ModelsConfig, retry resilience.Policy) ([]consensus.Verifier, error) {
	var out []consensus.Verifier
	for _, m := range models.Named() {
		settings := consensus.CallSettings{MaxTokens: m.MaxTokens, Temperature: m.Temperature}
		switch m.Provider {
		case config.ProviderAnthropic:
			var opts []anthropicpkg.ClientOption
			if m.BaseURL != "" {
				opts = append(opts, anthropicpkg.WithBaseURL(m.BaseURL))
			}
			if m.RequestsPerMinute > 0 {
				opts = append(opts, anthropicpkg.WithRequestsPerMinute(m.RequestsPerMinute))
			}
			client := anthropicpkg.NewClient(m.APIKey, opts...)
			out = append(out, consensus.WithRetry(consensus.NewAnthropicVerifier(m.Name, m.Model, client, settings), retry))
		case config.ProviderOpenAI:
			client, err := openaicompat.New(openaicompat.Config{
				BaseURL:           m.BaseURL,
				Model:             m.Model,
				APIKey:            m.APIKey,
				RequestsPerMinute: m.RequestsPerMinute,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, consensus.WithRetry(consensus.NewChatVerifier(m.Name, m.Model, client, settings), retry))
		default:
			return nil, eris.Errorf("unknown provider %q for model %s", m.Provider, m.Name)
		}
	}
	return out, nil
}

// writeJSONFile writes v as indented JSON, creating parent directories.
func writeJSONFile(path string, v any) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "marshal %s", path)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// exportCosts writes the run's cost summary next to the audit log.
func exportCosts(tr *cost.Tracker, dir string) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	exports := []struct {
		name  string
		write func(w io.Writer) error
	}{
		{"cost_summary.csv", tr.ExportCSV},
		{"cost_summary.json", tr.ExportJSON},
	}
	for _, e := range exports {
		f, err := os.Create(filepath.Join(dir, e.name))
		if err != nil {
			return eris.Wrapf(err, "create %s", e.name)
		}
		if err := e.write(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", e.name)
		}
	}
	tr.LogSummary()
	return nil
}

func ensureDir(dir string) error {
	return eris.Wrapf(os.MkdirAll(dir, 0o755), "create dir %s", dir)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

const auditSummaryFile = "audit_summary.json"

// writeAuditSummary tallies the audit trail at path and writes the summary
// under dir.
func writeAuditSummary(path, dir string) (*audit.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open audit trail %s", path)
	}
	defer f.Close() //nolint:errcheck

	sum, err := audit.Summarize(f)
	if err != nil {
		return nil, err
	}
	if err := writeJSONFile(filepath.Join(dir, auditSummaryFile), sum); err != nil {
		return nil, err
	}
	return sum, nil
}
