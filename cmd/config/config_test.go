package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"dagledger/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Network.Alt != "1" {
		t.Fatalf("unexpected alt: %s", AppConfig.Network.Alt)
	}
	if len(AppConfig.Ledger.Witnesses) != 12 {
		t.Fatalf("expected 12 witnesses, got %d", len(AppConfig.Ledger.Witnesses))
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Network.DiscoveryTag != "dagledger-bootstrap" {
		t.Fatalf("expected discovery tag override, got %s", AppConfig.Network.DiscoveryTag)
	}
	if AppConfig.Ledger.IssueCap != 1000000000 {
		t.Fatalf("expected overridden issue cap, got %d", AppConfig.Ledger.IssueCap)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  alt: sandbox\nledger:\n  issue_cap: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Network.Alt != "sandbox" {
		t.Fatalf("expected alt sandbox, got %s", AppConfig.Network.Alt)
	}
	if AppConfig.Ledger.IssueCap != 42 {
		t.Fatalf("expected issue cap 42, got %d", AppConfig.Ledger.IssueCap)
	}
}
