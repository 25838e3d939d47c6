package omnicube

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const backupsXML = `<?xml version="1.0" encoding="UTF-8"?>
<CommandResult>
  <Backup>
    <state>4</state>
    <hiveName>vm-web-01</hiveName>
    <timestamp>1792360800</timestamp>
  </Backup>
  <Backup>
    <state>3</state>
    <hiveName>vm-db-01</hiveName>
    <timestamp>1792364400</timestamp>
  </Backup>
</CommandResult>
`

func TestDecodeBackups(t *testing.T) {
	got, err := DecodeBackups(backupsXML)
	if err != nil {
		t.Fatalf("DecodeBackups returned error: %v", err)
	}
	want := []BackupRecord{
		{Host: "vm-web-01", State: StateSucceeded, Timestamp: 1792360800},
		{Host: "vm-db-01", State: StateFailed, Timestamp: 1792364400},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBackupsEmptyRoot(t *testing.T) {
	got, err := DecodeBackups("<CommandResult/>")
	if err != nil {
		t.Fatalf("DecodeBackups returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestDecodeBackupsSkipsEcho(t *testing.T) {
	raw := `svt-backup-show --output xml --max-results 10000 | sed "/\(<dcId>\)/d"
` + backupsXML
	got, err := DecodeBackups(raw)
	if err != nil {
		t.Fatalf("DecodeBackups returned error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
}

func TestDecodeBackupsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only echo", "svt-backup-show --output xml\n"},
		{"truncated", "<CommandResult><Backup><state>4</state><hiveName>a</hive"},
		{"missing timestamp", "<r><Backup><state>4</state><hiveName>a</hiveName></Backup></r>"},
		{"missing hiveName", "<r><Backup><state>4</state><timestamp>1</timestamp></Backup></r>"},
		{"non-numeric state", "<r><Backup><state>ok</state><hiveName>a</hiveName><timestamp>1</timestamp></Backup></r>"},
		{"non-numeric timestamp", "<r><Backup><state>4</state><hiveName>a</hiveName><timestamp>yesterday</timestamp></Backup></r>"},
		{"trailing text", "<r></r>\nToo many results, use --max-results"},
		{"second root", "<r></r><r></r>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBackups(tt.raw)
			if !errors.Is(err, ErrMalformedXML) {
				t.Errorf("expected ErrMalformedXML, got %v", err)
			}
		})
	}
}

func TestDecodeVMs(t *testing.T) {
	raw := `<CommandResult>
  <VM><platformName>vm-web-01</platformName><policy>gold</policy></VM>
  <VM><platformName>vm-db-01</platformName><policy>empty</policy></VM>
  <VM><platformName>vm-tmp-01</platformName><policy/></VM>
</CommandResult>`

	got, err := DecodeVMs(raw)
	if err != nil {
		t.Fatalf("DecodeVMs returned error: %v", err)
	}
	want := []VMRecord{
		{PlatformName: "vm-web-01", Policy: "gold"},
		{PlatformName: "vm-db-01", Policy: NoPolicy},
		{PlatformName: "vm-tmp-01", Policy: NoPolicy},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeVMsMissingPolicy(t *testing.T) {
	_, err := DecodeVMs("<r><VM><platformName>a</platformName></VM></r>")
	if !errors.Is(err, ErrMalformedXML) {
		t.Errorf("expected ErrMalformedXML, got %v", err)
	}
}
