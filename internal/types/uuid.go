package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex subs_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateInvoiceNumber returns a human-friendly unique invoice number,
// e.g. INV-X8QZ2A1B. Uniqueness is enforced by the invoices table index;
// this only needs to be collision-resistant per process.
func GenerateInvoiceNumber() string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		// fall back to the ULID form, still unique
		return "INV-" + GenerateUUID()
	}
	id = strings.ReplaceAll(id, "-", "")
	return "INV-" + strings.ToUpper(id)
}

const (
	UUID_PREFIX_SUBSCRIPTION      = "subs"
	UUID_PREFIX_PRODUCT_LINE      = "line"
	UUID_PREFIX_INVOICE           = "inv"
	UUID_PREFIX_INVOICE_LINE_ITEM = "inv_line"
	UUID_PREFIX_EVENT             = "event"
	UUID_PREFIX_ACCOUNT           = "acct"
	UUID_PREFIX_PRODUCT           = "prod"
)
