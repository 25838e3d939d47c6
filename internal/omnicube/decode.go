package omnicube

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedXML is returned when a reply has no root element, is truncated,
// carries trailing data or lacks a required field.
var ErrMalformedXML = errors.New("malformed XML")

type backupDocument struct {
	Backups []backupElement `xml:"Backup"`
}

type backupElement struct {
	State     *string `xml:"state"`
	HiveName  *string `xml:"hiveName"`
	Timestamp *string `xml:"timestamp"`
}

type vmDocument struct {
	VMs []vmElement `xml:"VM"`
}

type vmElement struct {
	PlatformName *string `xml:"platformName"`
	Policy       *string `xml:"policy"`
}

// DecodeBackups parses an svt-backup-show reply in document order.
func DecodeBackups(raw string) ([]BackupRecord, error) {
	var doc backupDocument
	if err := decodeDocument(raw, &doc); err != nil {
		return nil, err
	}

	records := make([]BackupRecord, 0, len(doc.Backups))
	for i, el := range doc.Backups {
		if el.State == nil || el.HiveName == nil || el.Timestamp == nil {
			return nil, fmt.Errorf("%w: Backup #%d lacks state, hiveName or timestamp", ErrMalformedXML, i+1)
		}
		state, err := strconv.Atoi(strings.TrimSpace(*el.State))
		if err != nil {
			return nil, fmt.Errorf("%w: Backup #%d state %q: %v", ErrMalformedXML, i+1, *el.State, err)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(*el.Timestamp), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: Backup #%d timestamp %q: %v", ErrMalformedXML, i+1, *el.Timestamp, err)
		}
		records = append(records, BackupRecord{
			Host:      strings.TrimSpace(*el.HiveName),
			State:     BackupState(state),
			Timestamp: ts,
		})
	}
	return records, nil
}

// DecodeVMs parses an svt-vm-show reply in document order.
func DecodeVMs(raw string) ([]VMRecord, error) {
	var doc vmDocument
	if err := decodeDocument(raw, &doc); err != nil {
		return nil, err
	}

	records := make([]VMRecord, 0, len(doc.VMs))
	for i, el := range doc.VMs {
		if el.PlatformName == nil || el.Policy == nil {
			return nil, fmt.Errorf("%w: VM #%d lacks platformName or policy", ErrMalformedXML, i+1)
		}
		policy := strings.TrimSpace(*el.Policy)
		if policy == "" {
			policy = NoPolicy
		}
		records = append(records, VMRecord{
			PlatformName: strings.TrimSpace(*el.PlatformName),
			Policy:       policy,
		})
	}
	return records, nil
}

// decodeDocument unmarshals the single root element of raw into v and
// rejects anything but whitespace, comments and processing instructions
// after it.
func decodeDocument(raw string, v any) error {
	body := trimPreamble(raw)
	if body == "" {
		return fmt.Errorf("%w: no root element", ErrMalformedXML)
	}

	dec := xml.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: no root element", ErrMalformedXML)
		}
		return fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: after root element: %v", ErrMalformedXML, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if strings.TrimSpace(string(t)) != "" {
				return fmt.Errorf("%w: unexpected text after root element", ErrMalformedXML)
			}
		case xml.Comment, xml.ProcInst, xml.Directive:
		default:
			return fmt.Errorf("%w: unexpected content after root element", ErrMalformedXML)
		}
	}
}

// trimPreamble drops leading lines that cannot start an XML document, such
// as a command echo the session did not strip.
func trimPreamble(raw string) string {
	rest := raw
	for rest != "" {
		line, tail, _ := strings.Cut(rest, "\n")
		if strings.HasPrefix(strings.TrimSpace(line), "<") {
			return strings.TrimSpace(rest)
		}
		rest = tail
	}
	return ""
}
