package holds_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/domain"
)

var testPool *pgxpool.Pool

// One postgres container for the package; tests isolate on their own pool
// rows, so sharing the database is safe.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "capacity",
				"POSTGRES_PASSWORD": "capacity",
				"POSTGRES_DB":       "capacity",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://capacity:capacity@%s:%s/capacity?sslmode=disable", host, port.Port())
	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	if err := pg.Migrate(ctx, testPool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func newRepo(t *testing.T) *pg.Repository {
	t.Helper()
	if testPool == nil {
		t.Fatal("test pool not initialized")
	}
	return pg.NewRepository(testPool)
}

func createPool(t *testing.T, repo *pg.Repository, kind domain.PoolKind, capacity *int32) domain.CapacityPool {
	t.Helper()
	pool := domain.NewCapacityPool(kind, capacity)
	if err := repo.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

// insertHold writes a hold row directly, bypassing Acquire, so tests can
// plant already-expired holds.
func insertHold(t *testing.T, repo *pg.Repository, hold domain.Hold) {
	t.Helper()
	err := repo.WithTx(context.Background(), func(tx pgx.Tx) error {
		return repo.InsertHold(context.Background(), tx, hold)
	})
	if err != nil {
		t.Fatalf("failed to insert hold: %v", err)
	}
}

func capacityOf(n int32) *int32 {
	return &n
}
