package parsers

import (
	"io"

	"github.com/username/cryptofolio/backend/src/models"
)

// Parser turns a platform's exported CSV report into normalized Transaction
// drafts for one account. Drafts are not persisted; the upload service
// deduplicates and stores them.
type Parser interface {
	Parse(file io.Reader, account *models.Account) ([]models.Transaction, error)
}
