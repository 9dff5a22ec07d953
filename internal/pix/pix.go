// Package pix renders static PIX "copy and paste" payloads (BR Code, EMV merchant-presented mode).
package pix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	gui             = "br.gov.bcb.pix"
	defaultCity     = "SAO PAULO"
	defaultTxID     = "***"
	maxNameLen      = 25
	maxCityLen      = 15
	maxDescLen      = 40
	maxTxIDLen      = 25
	maxFieldLen     = 99
	crcTagHeader    = "6304"
	crcPolynomial   = 0x1021
	crcInitialValue = 0xFFFF
)

// ErrPayloadFormat reports input that cannot be laid out as TLV fields.
var ErrPayloadFormat = errors.New("pix payload format")

type Payload struct {
	Key             string
	Amount          float64
	BeneficiaryName string
	City            string
	Description     string
	TxID            string
}

// Encode builds the payload string terminated by its CRC16 field.
func Encode(p Payload) (string, error) {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return "", fmt.Errorf("%w: key required", ErrPayloadFormat)
	}
	if p.Amount < 0 {
		return "", fmt.Errorf("%w: negative amount", ErrPayloadFormat)
	}

	city := p.City
	if strings.TrimSpace(city) == "" {
		city = defaultCity
	}
	txID := p.TxID
	if txID == "" {
		txID = defaultTxID
	}

	merchant := []string{field("00", gui), field("01", key)}
	if desc := truncate(asciiFold(p.Description), maxDescLen); desc != "" {
		merchant = append(merchant, field("02", desc))
	}

	fields := []struct {
		id    string
		value string
	}{
		{"00", "01"},
		{"26", strings.Join(merchant, "")},
		{"52", "0000"},
		{"53", "986"},
		{"54", strconv.FormatFloat(p.Amount, 'f', 2, 64)},
		{"58", "BR"},
		{"59", strings.ToUpper(truncate(asciiFold(p.BeneficiaryName), maxNameLen))},
		{"60", strings.ToUpper(truncate(asciiFold(city), maxCityLen))},
		{"62", field("05", truncate(txID, maxTxIDLen))},
	}

	var sb strings.Builder
	for _, f := range fields {
		if len(f.value) > maxFieldLen {
			return "", fmt.Errorf("%w: field %s is %d bytes", ErrPayloadFormat, f.id, len(f.value))
		}
		sb.WriteString(field(f.id, f.value))
	}
	sb.WriteString(crcTagHeader)
	payload := sb.String()
	return payload + fmt.Sprintf("%04X", CRC16([]byte(payload))), nil
}

// CRC16 is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection, no final xor.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInitialValue)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Verify recomputes the trailing checksum of an encoded payload.
func Verify(payload string) bool {
	if len(payload) < len(crcTagHeader)+4 {
		return false
	}
	body, sum := payload[:len(payload)-4], payload[len(payload)-4:]
	if !strings.HasSuffix(body, crcTagHeader) {
		return false
	}
	return fmt.Sprintf("%04X", CRC16([]byte(body))) == sum
}

func field(id, value string) string {
	return id + fmt.Sprintf("%02d", len(value)) + value
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// asciiFold strips diacritics ("São" -> "Sao") and drops anything left outside printable ASCII,
// so that byte length equals character length in the TLV headers.
func asciiFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, folded)
}
