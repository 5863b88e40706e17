package linkframe

import (
	"testing"

	"github.com/docker/docker/pkg/parsers/kernel"

	"github.com/simeonmiteff/linkframe/capability"
	"github.com/simeonmiteff/linkframe/checksum"
)

// withBuildVersion lowers capability.BuildVersion for the duration of a test
// and restores it afterward, since the flags it gates are package-level.
func withBuildVersion(t *testing.T, v kernel.VersionInfo) {
	t.Helper()
	saved := capability.BuildVersion
	capability.SetBuildVersion(v)
	t.Cleanup(func() { capability.SetBuildVersion(saved) })
}

func TestInitRejectsWideFieldsBelowCapabilityThreshold(t *testing.T) {
	withBuildVersion(t, kernel.VersionInfo{Kernel: 0, Major: 9, Minor: 0})

	_, err := Init(PeerA, Config{
		IDWidth: 2,
		Write:   func(*Engine, []byte) {},
	})
	if err == nil {
		t.Fatal("expected Init to reject a wide ID field below capability.WideFields' threshold")
	}
}

func TestInitRejectsCustomChecksumBelowCapabilityThreshold(t *testing.T) {
	withBuildVersion(t, kernel.VersionInfo{Kernel: 2, Major: 2, Minor: 0})

	_, err := Init(PeerA, Config{
		Checksum: checksum.Custom32,
		Write:    func(*Engine, []byte) {},
	})
	if err == nil {
		t.Fatal("expected Init to reject a custom checksum kernel below capability.CustomChecksumHooks' threshold")
	}
}

func TestInitRejectsExternalLockBelowCapabilityThreshold(t *testing.T) {
	withBuildVersion(t, kernel.VersionInfo{Kernel: 2, Major: 0, Minor: 0})

	_, err := Init(PeerA, Config{
		Write:     func(*Engine, []byte) {},
		ClaimTx:   func(*Engine) bool { return true },
		ReleaseTx: func(*Engine) {},
	})
	if err == nil {
		t.Fatal("expected Init to reject an external send lock below capability.ExternalSendLock's threshold")
	}
}

func TestMultipartSendRefusedBelowCapabilityThreshold(t *testing.T) {
	withBuildVersion(t, kernel.VersionInfo{Kernel: 1, Major: 0, Minor: 0})

	e, err := Init(PeerA, Config{Write: func(*Engine, []byte) {}})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if e.SendMultipart(&Msg{Type: 1, Len: 4}) {
		t.Fatal("expected SendMultipart to fail below capability.MultipartSend's threshold")
	}
}

func TestMultipartSendAvailableAtDefaultBuildVersion(t *testing.T) {
	e, err := Init(PeerA, Config{Write: func(*Engine, []byte) {}})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !e.SendMultipart(&Msg{Type: 1, Len: 0}) {
		t.Fatal("expected SendMultipart to succeed at the default build version")
	}
}
