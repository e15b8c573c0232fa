// Command tenantctl administers tenant records and pool invalidations.
//
// It talks directly to the Valkey store and the NATS stream, bypassing the
// HTTP API, so it works even when the connector hub is down or its API key
// is not at hand. Connection settings come from the environment (and .env),
// the same way the server reads them.
//
// Usage:
//
//	tenantctl -action=create -name="Acme Corp" -backend=backend.json
//	tenantctl -action=get -id=<tenant-id>
//	tenantctl -action=list
//	tenantctl -action=update -id=<tenant-id> -backend=backend.json
//	tenantctl -action=delete -id=<tenant-id>
//	tenantctl -action=invalidate -id=<tenant-id> -reason="credentials rotated"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dhanababum/supermcp-sub001/internal/config"
	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/internal/pool"
	"github.com/dhanababum/supermcp-sub001/internal/queue"
	"github.com/dhanababum/supermcp-sub001/internal/tenant"
)

type options struct {
	action      string
	id          string
	name        string
	backendPath string
	reason      string
	timeout     time.Duration
}

func main() {
	log.SetFlags(0)

	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.action, "action", "", "one of: create, get, list, update, delete, invalidate")
	flag.StringVar(&opts.id, "id", "", "tenant ID")
	flag.StringVar(&opts.name, "name", "", "tenant display name (create/update)")
	flag.StringVar(&opts.backendPath, "backend", "", "path to backend config JSON, or '-' for stdin")
	flag.StringVar(&opts.reason, "reason", "manual invalidation", "reason recorded on the invalidation task")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "operation timeout")
	flag.Parse()

	if opts.action == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	store, err := tenant.NewValkeyStore(&cfg.Store)
	if err != nil {
		log.Fatalf("connecting to valkey: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	switch opts.action {
	case "create":
		err = runCreate(ctx, store, opts)
	case "get":
		err = runGet(ctx, store, opts)
	case "list":
		err = runList(ctx, store)
	case "update":
		err = runUpdate(ctx, store, cfg, opts)
	case "delete":
		err = runDelete(ctx, store, cfg, opts)
	case "invalidate":
		err = runInvalidate(ctx, store, cfg, opts)
	default:
		log.Fatalf("unknown action %q", opts.action)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", opts.action, err)
	}
}

func runCreate(ctx context.Context, store *tenant.ValkeyStore, opts options) error {
	backend, err := readBackendConfig(opts.backendPath)
	if err != nil {
		return err
	}

	id := opts.id
	if id == "" {
		id = uuid.New().String()
	}

	t := &domain.Tenant{ID: id, Name: opts.name, Backend: *backend}
	if err := store.SaveTenant(ctx, t); err != nil {
		return err
	}

	return printJSON(t)
}

func runGet(ctx context.Context, store *tenant.ValkeyStore, opts options) error {
	if opts.id == "" {
		return fmt.Errorf("-id is required")
	}
	t, err := store.GetTenant(ctx, opts.id)
	if err != nil {
		return err
	}
	return printJSON(t)
}

func runList(ctx context.Context, store *tenant.ValkeyStore) error {
	tenants, err := store.ListTenants(ctx)
	if err != nil {
		return err
	}
	log.Printf("%d tenants", len(tenants))
	return printJSON(tenants)
}

func runUpdate(ctx context.Context, store *tenant.ValkeyStore, cfg *config.Config, opts options) error {
	if opts.id == "" {
		return fmt.Errorf("-id is required")
	}
	backend, err := readBackendConfig(opts.backendPath)
	if err != nil {
		return err
	}

	existing, err := store.GetTenant(ctx, opts.id)
	if err != nil {
		return err
	}
	oldKey := pool.ResolveKey(existing.Backend)

	name := opts.name
	if name == "" {
		name = existing.Name
	}
	updated := &domain.Tenant{
		ID:        opts.id,
		Name:      name,
		Backend:   *backend,
		CreatedAt: existing.CreatedAt,
	}
	if err := store.SaveTenant(ctx, updated); err != nil {
		return err
	}

	if err := publishInvalidation(ctx, cfg, opts.id, oldKey, "config updated"); err != nil {
		return err
	}

	return printJSON(updated)
}

func runDelete(ctx context.Context, store *tenant.ValkeyStore, cfg *config.Config, opts options) error {
	if opts.id == "" {
		return fmt.Errorf("-id is required")
	}

	existing, err := store.GetTenant(ctx, opts.id)
	if err != nil {
		return err
	}
	key := pool.ResolveKey(existing.Backend)

	if err := store.DeleteTenant(ctx, opts.id); err != nil {
		return err
	}

	if err := publishInvalidation(ctx, cfg, opts.id, key, "tenant deleted"); err != nil {
		return err
	}

	log.Printf("deleted tenant %s", opts.id)
	return nil
}

func runInvalidate(ctx context.Context, store *tenant.ValkeyStore, cfg *config.Config, opts options) error {
	if opts.id == "" {
		return fmt.Errorf("-id is required")
	}

	t, err := store.GetTenant(ctx, opts.id)
	if err != nil {
		return err
	}
	key := pool.ResolveKey(t.Backend)

	if err := publishInvalidation(ctx, cfg, opts.id, key, opts.reason); err != nil {
		return err
	}

	log.Printf("queued invalidation for tenant %s (target %s)", opts.id, key)
	return nil
}

func publishInvalidation(ctx context.Context, cfg *config.Config, tenantID string, key pool.TargetKey, reason string) error {
	publisher, err := queue.NewNATSPublisher(&cfg.Queue)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer publisher.Close()

	return publisher.PublishInvalidation(ctx, queue.InvalidationTask{
		TaskID:    uuid.New().String(),
		TenantID:  tenantID,
		TargetKey: string(key),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
}

func readBackendConfig(path string) (*domain.BackendConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("-backend is required")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading backend config: %w", err)
	}

	var backend domain.BackendConfig
	if err := json.Unmarshal(data, &backend); err != nil {
		return nil, fmt.Errorf("parsing backend config: %w", err)
	}
	if err := backend.Validate(); err != nil {
		return nil, err
	}

	return &backend, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
