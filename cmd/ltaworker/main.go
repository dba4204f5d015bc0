// Command ltaworker runs a single stage of the archival or retrieval
// pipeline (spec.md §4.4): which stage it runs is selected by the STAGE
// environment variable, with everything else (claim discipline, heartbeat,
// quarantine, termination mode) provided by pkg/worker's generic harness.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/config"
	"github.com/wipac/ltacoord/pkg/log"
	"github.com/wipac/ltacoord/pkg/mover"
	"github.com/wipac/ltacoord/pkg/stageaction"
	"github.com/wipac/ltacoord/pkg/types"
	"github.com/wipac/ltacoord/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

	if cfg.PrometheusMetricsPort != "" {
		go func() {
			addr := ":" + cfg.PrometheusMetricsPort
			log.Logger.Info().Str("addr", addr).Msg("worker metrics listening")
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil { // nolint:gosec
				log.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	tokens := client.NewClientCredentialsTokenSource(cfg.LTAAuthOpenIDURL, cfg.ClientID, cfg.ClientSecret, nil)
	coord := client.New(cfg.LTARestURL, tokens, nil)

	stage := os.Getenv("STAGE")
	if requestAction, ok, err := buildRequestAction(stage, coord); ok {
		if err != nil {
			return err
		}
		w := worker.NewRequestWorker(cfg, coord, requestAction)
		return w.Run(context.Background())
	}

	action, err := buildAction(stage, coord)
	if err != nil {
		return err
	}

	w := worker.New(cfg, coord, action)
	return w.Run(context.Background())
}

// buildRequestAction selects and configures a RequestAction stage: Picker
// and Locator claim TransferRequests rather than Bundles (spec.md §4.4),
// so they run under worker.RequestWorker instead of worker.Worker. The
// bool return reports whether stage names a RequestAction at all, so run
// can fall through to buildAction for every other stage.
func buildRequestAction(stage string, coord *client.Client) (stageaction.RequestAction, bool, error) {
	switch stage {
	case "picker":
		maxBytes, err := parseQuota(os.Getenv("PICKER_BATCH_MAX_BYTES"))
		if err != nil {
			return nil, true, err
		}
		maxFiles, err := strconv.Atoi(firstNonEmpty(os.Getenv("PICKER_BATCH_MAX_FILES"), "0"))
		if err != nil {
			return nil, true, fmt.Errorf("PICKER_BATCH_MAX_FILES: %w", err)
		}
		return &stageaction.Picker{
			Catalog:       catalog.NewHTTPClient(requireEnv("FILE_CATALOG_URL"), os.Getenv("FILE_CATALOG_TOKEN"), nil),
			BatchMaxBytes: maxBytes,
			BatchMaxFiles: maxFiles,
		}, true, nil

	case "locator":
		return &stageaction.Locator{
			Catalog: catalog.NewHTTPClient(requireEnv("FILE_CATALOG_URL"), os.Getenv("FILE_CATALOG_TOKEN"), nil),
		}, true, nil

	default:
		return nil, false, nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildAction selects and configures the stage action named by STAGE,
// reading only the stage-specific environment variables that stage needs
// (spec.md §6: "each reads only the variables relevant to its action").
func buildAction(stage string, coord *client.Client) (stageaction.Action, error) {
	switch stage {
	case "bundler":
		fc := catalog.NewHTTPClient(requireEnv("FILE_CATALOG_URL"), os.Getenv("FILE_CATALOG_TOKEN"), nil)
		return &stageaction.Bundler{
			OutboxPath: requireEnv("BUNDLER_OUTBOX_PATH"),
			Files:      bundlerFiles(coord, fc),
		}, nil

	case "rate-limiter":
		quota, err := parseQuota(os.Getenv("RATE_LIMITER_MIN_FREE_BYTES"))
		if err != nil {
			return nil, err
		}
		return &stageaction.RateLimiter{
			StagingPath: requireEnv("RSE_BASE_PATH"),
			QuotaBytes:  quota,
		}, nil

	case "replicator":
		timeout, err := parseSeconds(os.Getenv("GRIDFTP_TIMEOUT"))
		if err != nil {
			return nil, err
		}
		return &stageaction.Replicator{
			Transfer:         &mover.GridFTPMover{Timeout: timeout},
			RemotePathPrefix: requireEnv("GRIDFTP_DEST_URL"),
		}, nil

	case "site-move-verifier":
		return &stageaction.SiteMoveVerifier{NextStatus: types.BundleStatus(requireEnv("SITE_MOVE_VERIFIER_NEXT_STATUS"))}, nil

	case "nersc-mover":
		return &stageaction.NERSCMover{
			HPSS:           &mover.HPSSMover{AvailPath: requireEnv("HPSS_AVAIL_PATH")},
			TapePathPrefix: requireEnv("TAPE_BASE_PATH"),
		}, nil

	case "nersc-retriever":
		return &stageaction.NERSCRetriever{
			HPSS:             &mover.HPSSMover{AvailPath: requireEnv("HPSS_AVAIL_PATH")},
			LocalStagingPath: requireEnv("RSE_BASE_PATH"),
		}, nil

	case "nersc-verifier", "desy-verifier":
		var hpss *mover.HPSSMover
		if stage == "nersc-verifier" {
			hpss = &mover.HPSSMover{AvailPath: requireEnv("HPSS_AVAIL_PATH")}
		}
		return &stageaction.TapeVerifier{
			HPSS:             hpss,
			LocalStagingPath: os.Getenv("RSE_BASE_PATH"),
			MetadataLister:   coord.ListMetadataByBundle,
			Catalog:          catalog.NewHTTPClient(requireEnv("FILE_CATALOG_URL"), os.Getenv("FILE_CATALOG_TOKEN"), nil),
			Site:             requireEnv("DEST_SITE"),
		}, nil

	case "deleter-source":
		return &stageaction.Deleter{
			PathOf: bundlePathField,
			From:   types.BundleStatusCompleted,
			To:     types.BundleStatusSourceDeleted,
		}, nil

	case "deleter-dest":
		return &stageaction.Deleter{
			PathOf: bundlePathField,
			From:   types.BundleStatusSourceDeleted,
			To:     types.BundleStatusDeleted,
		}, nil

	case "unpacker":
		pathMap, err := stageaction.LoadPathMap(os.Getenv("PATH_MAP_JSON"))
		if err != nil {
			return nil, err
		}
		return &stageaction.Unpacker{
			WarehousePath:  requireEnv("WAREHOUSE_PATH"),
			Catalog:        catalog.NewHTTPClient(requireEnv("FILE_CATALOG_URL"), os.Getenv("FILE_CATALOG_TOKEN"), nil),
			MetadataLister: coord.ListMetadataByBundle,
			PathMap:        pathMap,
		}, nil

	case "transfer-request-finisher":
		return &stageaction.RequestFinisher{
			BundlesForRequest: coord.ListBundlesByRequest,
			FinishRequest:     coord.FinishRequest,
		}, nil

	default:
		return nil, fmt.Errorf("unknown STAGE %q", stage)
	}
}

// bundlerFiles resolves the on-disk source paths for a bundle: the
// Metadata side-table gives the File Catalog identifiers attached to the
// bundle, and the File Catalog's own records give each file's logical
// name, optionally rooted under USE_FULL_BUNDLE_PATH to get a path on the
// source site's filesystem.
func bundlerFiles(coord *client.Client, fc catalog.Client) func(ctx context.Context, bundle *types.Bundle) ([]stageaction.BundleFile, error) {
	root := os.Getenv("USE_FULL_BUNDLE_PATH")
	return func(ctx context.Context, bundle *types.Bundle) ([]stageaction.BundleFile, error) {
		records, err := coord.ListMetadataByBundle(ctx, bundle.UUID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(records))
		for _, md := range records {
			ids = append(ids, md.FileCatalogID)
		}
		files, err := fc.FilesForBundle(ctx, ids)
		if err != nil {
			return nil, err
		}
		bundleFiles := make([]stageaction.BundleFile, 0, len(files))
		for _, f := range files {
			diskPath := f.LogicalName
			if root != "" {
				diskPath = root + f.LogicalName
			}
			bundleFiles = append(bundleFiles, stageaction.BundleFile{ArchivePath: f.LogicalName, DiskPath: diskPath})
		}
		return bundleFiles, nil
	}
}

func bundlePathField(bundle *types.Bundle) string { return bundle.BundlePath }

// parseSeconds parses an integer-seconds env var into a time.Duration,
// returning the zero value (the mover's own default) when unset.
func parseSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("GRIDFTP_TIMEOUT: %w", err)
	}
	return time.Duration(n) * time.Second, nil
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Logger.Fatal().Str("variable", name).Msg("required environment variable is not set")
	}
	return v
}

func parseQuota(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("RATE_LIMITER_MIN_FREE_BYTES: %w", err)
	}
	return n, nil
}
