package nomussync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
	"github.com/shopspring/decimal"
)

func TestUpsertBatchCreateThenReplace(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.ConnectDatabaseWithRetry.
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "nomus_sync_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	var skipped []int64
	up := newGormUpserter[models.Receivable](config.GetDB(), "receivables", 100, func(externalId int64, err error) {
		skipped = append(skipped, externalId)
	})

	first := models.Receivable{
		ExternalId:     7001,
		TenantGroupId:  1,
		DebtorId:       42,
		DebtorName:     "Fulano",
		DueDate:        time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		CompetenceDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		AmountDue:      decimal.RequireFromString("1500.00"),
		Balance:        decimal.RequireFromString("1500.00"),
		Status:         "ABERTO",
		Classification: "Mensalidade",
	}
	stats, err := up.UpsertBatch(ctx, []models.Receivable{first})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if stats.Created != 1 || stats.Updated != 0 || stats.Skipped != 0 {
		t.Fatalf("first upsert stats = %+v", stats)
	}

	var created models.Receivable
	if err := config.GetDB().Where("external_id = ?", int64(7001)).Take(&created).Error; err != nil {
		t.Fatalf("load created row: %v", err)
	}

	// Replaying the same external id must fully replace the row in place.
	second := first
	second.DebtorName = "Fulano de Tal"
	second.Status = "PAGO"
	second.AmountPaid = decimal.RequireFromString("1500.00")
	second.Balance = decimal.Zero
	stats, err = up.UpsertBatch(ctx, []models.Receivable{second})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stats.Created != 0 || stats.Updated != 1 || stats.Skipped != 0 {
		t.Fatalf("second upsert stats = %+v", stats)
	}

	var rows []models.Receivable
	if err := config.GetDB().Where("external_id = ?", int64(7001)).Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows after replay = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.ID != created.ID {
		t.Errorf("replay allocated a new row: id %d -> %d", created.ID, got.ID)
	}
	if got.DebtorName != "Fulano de Tal" || got.Status != "PAGO" {
		t.Errorf("row not replaced: name=%q status=%q", got.DebtorName, got.Status)
	}
	if !got.AmountPaid.Equal(decimal.RequireFromString("1500.00")) || !got.Balance.Equal(decimal.Zero) {
		t.Errorf("amounts not replaced: paid=%s balance=%s", got.AmountPaid, got.Balance)
	}
	if len(skipped) != 0 {
		t.Errorf("unexpected skips: %v", skipped)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("nomus-sync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=nomus_sync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
