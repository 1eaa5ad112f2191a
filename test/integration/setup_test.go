//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/domain/mrrt"
	"github.com/ehr/radiology/internal/domain/study"
	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/db"
	"github.com/ehr/radiology/internal/platform/dicomuid"
	"github.com/ehr/radiology/migrations"
)

// connStr points at the shared postgres container started in TestMain.
var connStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	cs, cleanup, err := startPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	connStr = cs
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// testEnv is one migrated schema with the services wired against it.
type testEnv struct {
	pool      *pgxpool.Pool
	schema    string
	root      string
	terms     *terminology.Service
	templates *mrrt.Service
	studies   *study.Service
}

// newTestEnv migrates a fresh schema and drops it when the test ends.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	schema := "radiology_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	admin, err := db.NewPool(ctx, connStr, "", 2, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := db.NewMigratorFS(admin, migrations.Files).Up(ctx, schema); err != nil {
		admin.Close()
		t.Fatalf("migrate %s: %v", schema, err)
	}

	pool, err := db.NewPool(ctx, connStr, schema, 4, 1)
	if err != nil {
		admin.Close()
		t.Fatalf("connect to %s: %v", schema, err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	root := filepath.Join(t.TempDir(), "mrrt_templates")
	tx := db.NewTransactor(pool)
	terms := terminology.NewService(terminology.NewRepoPG(pool))
	return &testEnv{
		pool:   pool,
		schema: schema,
		root:   root,
		terms:  terms,
		templates: mrrt.NewService(mrrt.NewRepoPG(pool), mrrt.NewFileStore(root),
			mrrt.NewTermResolver(terms, zerolog.Nop()), tx, zerolog.Nop()),
		studies: study.NewService(study.NewRepoPG(pool),
			dicomuid.NewGenerator(dicomuid.StaticOrgRoot("1.2.826.0.1.3680043.8.2186")), tx, zerolog.Nop()),
	}
}

// seedRadLex adds the RADLEX source with the computed tomography term.
func (env *testEnv) seedRadLex(t *testing.T) *terminology.ReferenceTerm {
	t.Helper()
	ctx := context.Background()
	if err := env.terms.CreateSource(ctx, &terminology.ConceptSource{Name: terminology.SourceRadLex}); err != nil {
		t.Fatalf("create source: %v", err)
	}
	term := &terminology.ReferenceTerm{SourceName: terminology.SourceRadLex, Code: "RID10321", Name: "computed tomography"}
	if err := env.terms.CreateTerm(ctx, term); err != nil {
		t.Fatalf("create term: %v", err)
	}
	return term
}

// readTemplate loads a fixture shared with the mrrt unit tests.
func readTemplate(t *testing.T, name string) string {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(filename), "..", "..", "internal", "domain", "mrrt", "testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func countRows(t *testing.T, env *testEnv, table string) int {
	t.Helper()
	var n int
	if err := env.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
