// Command vaultd wires together storage, the visibility scheduler, the
// query engine, and the HTTP transport surface into a running process.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kieranveyl/knowledgevault/internal/anchor"
	"github.com/kieranveyl/knowledgevault/internal/chunk"
	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/httpapi"
	"github.com/kieranveyl/knowledgevault/internal/idgen"
	"github.com/kieranveyl/knowledgevault/internal/index"
	"github.com/kieranveyl/knowledgevault/internal/logging"
	"github.com/kieranveyl/knowledgevault/internal/observability"
	"github.com/kieranveyl/knowledgevault/internal/passage"
	"github.com/kieranveyl/knowledgevault/internal/publish"
	"github.com/kieranveyl/knowledgevault/internal/query"
	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/store/memory"
	"github.com/kieranveyl/knowledgevault/internal/store/postgres"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
	"github.com/kieranveyl/knowledgevault/internal/visibility"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	metrics := observability.NewOtelMetrics("knowledgevault")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	passages := passage.New()
	registry := index.NewRegistry()
	if err := registry.Commit(index.Build(idgen.New(idgen.Corpus), nil), nil); err != nil {
		log.Fatalf("initial index: %v", err)
	}

	sched := visibility.New(cfg.Scheduler, logger, metrics,
		buildFunc(st, passages, cfg), commitFunc(st, passages, registry))
	go sched.Run(ctx)

	coord := publish.New(st, sched, 0)
	engine := query.New(registry, st, passages, cfg.Query)

	handler := httpapi.NewServer(st, coord, engine, sched, cfg.RateLimit)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	go func() {
		logger.Info("vaultd listening", map[string]any{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", map[string]any{"error": err.Error()})
	} else {
		logger.Info("vaultd stopped", nil)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return pg, pg.Close, nil
	default:
		m := memory.New()
		return m, func() {}, nil
	}
}

// buildFunc performs the chunk+tokenize build stage: it chunks the
// published version and returns the passages for the commit stage to
// install, without touching the serving index.
func buildFunc(st store.Store, passages *passage.Store, cfg config.Config) visibility.BuildFunc {
	return func(ctx context.Context, e visibility.Event) (any, error) {
		v, err := st.GetVersion(ctx, e.VersionID)
		if err != nil {
			return nil, err
		}
		normalized := tokenize.Normalize(v.BodyMD)
		results, err := chunk.Chunk(normalized, cfg.Chunking)
		if err != nil {
			return nil, err
		}
		built := make([]vault.Passage, 0, len(results))
		for _, r := range results {
			a, err := anchor.Create(normalized, r.StructurePath, r.TokenSpan.Offset, r.TokenSpan.Length,
				tokenize.Algo(cfg.FingerprintAlgo), cfg.TokenizationVersion)
			if err != nil {
				return nil, err
			}
			built = append(built, vault.Passage{
				ID:            idgen.New(idgen.Passage),
				VersionID:     e.VersionID,
				StructurePath: r.StructurePath,
				TokenSpan:     r.TokenSpan,
				Snippet:       r.Snippet,
				Content:       r.Content,
				ContentHash:   r.ContentHash,
				Anchor:        a,
			})
		}
		return built, nil
	}
}

// commitFunc installs the newly built passages into the passage store
// and rebuilds+swaps the served index behind the health gate. Every
// version's passages carry that version's own published collections,
// not just the collections of the version triggering this build.
func commitFunc(st store.Store, passages *passage.Store, registry *index.Registry) visibility.CommitFunc {
	return func(ctx context.Context, e visibility.Event, built any) error {
		newPassages := built.([]vault.Passage)
		passages.DeleteByVersion(e.VersionID)
		passages.PutAll(newPassages)

		all := passages.All()
		inputs := make([]index.PassageInput, 0, len(all))
		versionSet := map[string]bool{}
		collCache := map[string][]string{e.VersionID: e.Collections}
		for _, p := range all {
			colls, ok := collCache[p.VersionID]
			if !ok {
				pub, err := st.GetPublicationByVersion(ctx, p.VersionID)
				if err != nil {
					colls = nil
				} else {
					colls = pub.CollectionIDs
				}
				collCache[p.VersionID] = colls
			}
			inputs = append(inputs, index.PassageInput{Passage: p, CollectionIDs: colls})
			versionSet[p.VersionID] = true
		}
		wantVersions := make([]string, 0, len(versionSet))
		for v := range versionSet {
			wantVersions = append(wantVersions, v)
		}

		next := index.Build(idgen.New(idgen.Corpus), inputs)
		return registry.Commit(next, wantVersions)
	}
}
