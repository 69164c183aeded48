package source

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: Acme <billing@acme.com>\r\n" +
	"To: inbox@example.com\r\n" +
	"Subject: Invoice #1\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please pay $100\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--b1--\r\n"

func TestParseMIME(t *testing.T) {
	raw, err := parseMIME(strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "Invoice #1", raw.Subject)
	assert.Equal(t, "Acme <billing@acme.com>", raw.From)
	assert.Equal(t, "Please pay $100", strings.TrimSpace(raw.Body))

	require.Len(t, raw.Attachments, 1)
	att := raw.Attachments[0]
	assert.Equal(t, "invoice.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.MIMEType)

	data, err := base64.StdEncoding.DecodeString(att.Data)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestParseMIMESinglePart(t *testing.T) {
	msg := "From: bob@example.com\r\nSubject: hello\r\nContent-Type: text/plain\r\n\r\nhi there\r\n"
	raw, err := parseMIME(strings.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", raw.From)
	assert.Equal(t, "hi there", strings.TrimSpace(raw.Body))
	assert.Empty(t, raw.Attachments)
}

func TestDecodeURLBase64(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte("hello?world>"))
	data, err := decodeURLBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello?world>", string(data))
}
