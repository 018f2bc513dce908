package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/models"
)

// ExportFormat selects the inventory output encoding.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportExcel ExportFormat = "excel"
)

// ExportResponse carries a rendered inventory file.
type ExportResponse struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ExportService renders a tenant's chunk inventory for offline review.
type ExportService struct {
	chunks    ChunkStore
	documents DocumentRegistry
}

func NewExportService(chunks ChunkStore, documents DocumentRegistry) *ExportService {
	return &ExportService{chunks: chunks, documents: documents}
}

type inventoryExport struct {
	TenantID    int64                      `json:"tenant_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Documents   []models.KnowledgeDocument `json:"documents"`
	Chunks      []models.ChunkView         `json:"chunks"`
}

// Export renders the tenant's full document and chunk inventory.
func (es *ExportService) Export(ctx context.Context, tenantID int64, format ExportFormat) (*ExportResponse, error) {
	documents, err := es.documents.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	chunks, err := es.chunks.ListByTenant(ctx, tenantID, 0, 0)
	if err != nil {
		return nil, err
	}

	views := make([]models.ChunkView, 0, len(chunks))
	for _, chunk := range chunks {
		views = append(views, models.ChunkView{
			ChunkID:      chunk.ChunkID,
			DocumentID:   chunk.DocumentID.Hex(),
			DocumentName: chunk.DocumentName,
			Ordinal:      chunk.Ordinal,
			Content:      chunk.Content,
			Processed:    chunk.Processed,
			UpdatedAt:    chunk.UpdatedAt,
		})
	}

	data := &inventoryExport{
		TenantID:    tenantID,
		GeneratedAt: time.Now(),
		Documents:   documents,
		Chunks:      views,
	}

	logger.Info("Exporting knowledge inventory",
		"tenant_id", tenantID, "documents", len(documents), "chunks", len(views), "format", string(format))

	switch format {
	case ExportExcel:
		return es.exportExcel(data)
	default:
		return es.exportJSON(data)
	}
}

func (es *ExportService) exportJSON(data *inventoryExport) (*ExportResponse, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode inventory: %w", err)
	}
	return &ExportResponse{
		Data:        encoded,
		ContentType: "application/json",
		Filename:    fmt.Sprintf("knowledge_%d_%s.json", data.TenantID, data.GeneratedAt.Format("20060102_150405")),
	}, nil
}

func (es *ExportService) exportExcel(data *inventoryExport) (*ExportResponse, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Error closing Excel file", "error", err)
		}
	}()

	chunkSheet := "Chunks"
	index, err := f.NewSheet(chunkSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Chunk ID", "Document", "Ordinal", "Content", "Processed", "Updated At"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(chunkSheet, cell, header)
	}

	for rowIdx, chunk := range data.Chunks {
		row := rowIdx + 2
		f.SetCellValue(chunkSheet, fmt.Sprintf("A%d", row), chunk.ChunkID)
		f.SetCellValue(chunkSheet, fmt.Sprintf("B%d", row), chunk.DocumentName)
		f.SetCellValue(chunkSheet, fmt.Sprintf("C%d", row), chunk.Ordinal)
		f.SetCellValue(chunkSheet, fmt.Sprintf("D%d", row), chunk.Content)
		f.SetCellValue(chunkSheet, fmt.Sprintf("E%d", row), chunk.Processed)
		f.SetCellValue(chunkSheet, fmt.Sprintf("F%d", row), chunk.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	docSheet := "Documents"
	if _, err := f.NewSheet(docSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	docHeaders := []string{"Name", "Content Type", "Size", "Chunks", "Processed", "Uploaded At"}
	for i, header := range docHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(docSheet, cell, header)
	}
	for rowIdx, doc := range data.Documents {
		row := rowIdx + 2
		f.SetCellValue(docSheet, fmt.Sprintf("A%d", row), doc.OriginalName)
		f.SetCellValue(docSheet, fmt.Sprintf("B%d", row), doc.ContentType)
		f.SetCellValue(docSheet, fmt.Sprintf("C%d", row), doc.Size)
		f.SetCellValue(docSheet, fmt.Sprintf("D%d", row), doc.ChunkCount)
		f.SetCellValue(docSheet, fmt.Sprintf("E%d", row), doc.ProcessedChunks)
		f.SetCellValue(docSheet, fmt.Sprintf("F%d", row), doc.UploadedAt.Format("2006-01-02 15:04:05"))
	}

	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return &ExportResponse{
		Data:        buf.Bytes(),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Filename:    fmt.Sprintf("knowledge_%d_%s.xlsx", data.TenantID, data.GeneratedAt.Format("20060102_150405")),
	}, nil
}
