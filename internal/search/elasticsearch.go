package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/config"
	"example.com/backstage/services/ticketing/internal/models"
)

// ElasticClient indexes audit documents for the operations team:
// completed transfers and payments flagged for reconciliation. Indexing
// is always best-effort and happens after the settlement transaction
// has committed.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{client: client, config: cfg}, nil
}

// IndexTransfer indexes a marketplace transfer in the audit index.
func (c *ElasticClient) IndexTransfer(ctx context.Context, transfer *models.TransferRecord) error {
	doc := map[string]interface{}{
		"id":                   transfer.ID.String(),
		"ticket_id":            transfer.TicketID.String(),
		"event_id":             transfer.EventID.String(),
		"from_user_id":         transfer.FromUserID.String(),
		"to_user_id":           transfer.ToUserID.String(),
		"amount":               transfer.Amount,
		"payment_reference_id": transfer.PaymentReferenceID,
		"created_at":           transfer.CreatedAt,
	}
	return c.index(ctx, "transfers", transfer.ID.String(), doc)
}

// IndexReconciliation indexes a payment record that needs manual
// reconciliation, keyed by transaction id so re-reports overwrite.
func (c *ElasticClient) IndexReconciliation(ctx context.Context, record *models.PaymentRecord) error {
	doc := map[string]interface{}{
		"transaction_id":      record.ID,
		"type":                record.Type,
		"buyer_id":            record.BuyerID.String(),
		"event_id":            record.EventID.String(),
		"amount":              record.Amount,
		"currency":            record.Currency,
		"status":              record.Status,
		"reconciliation_note": record.ReconciliationNote,
		"created_at":          record.CreatedAt,
		"updated_at":          record.UpdatedAt,
	}
	if record.TicketID != nil {
		doc["ticket_id"] = record.TicketID.String()
	}
	if record.SellerID != nil {
		doc["seller_id"] = record.SellerID.String()
	}
	return c.index(ctx, "reconciliation", record.ID, doc)
}

func (c *ElasticClient) index(ctx context.Context, index, documentID string, doc map[string]interface{}) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, index),
		DocumentID: documentID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("index", index).Str("document_id", documentID).Msg("document indexed")
	return nil
}
