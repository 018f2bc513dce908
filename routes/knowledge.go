package routes

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"edu-knowledge-platform/internal/config"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/queue"
	"edu-knowledge-platform/middleware"
	"edu-knowledge-platform/models"
	"edu-knowledge-platform/services"
	"edu-knowledge-platform/utils"
)

// KnowledgeHandler bundles the services behind the knowledge endpoints.
type KnowledgeHandler struct {
	cfg         *config.Config
	pipeline    *services.Pipeline
	retriever   *services.Retriever
	lifecycle   *services.Lifecycle
	exporter    *services.ExportService
	documents   services.DocumentRegistry
	queueClient *asynq.Client
}

func NewKnowledgeHandler(
	cfg *config.Config,
	pipeline *services.Pipeline,
	retriever *services.Retriever,
	lifecycle *services.Lifecycle,
	exporter *services.ExportService,
	documents services.DocumentRegistry,
	queueClient *asynq.Client,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		cfg:         cfg,
		pipeline:    pipeline,
		retriever:   retriever,
		lifecycle:   lifecycle,
		exporter:    exporter,
		documents:   documents,
		queueClient: queueClient,
	}
}

func SetupKnowledgeRoutes(router *gin.Engine, h *KnowledgeHandler, auth *middleware.AuthMiddleware) {
	knowledge := router.Group("/knowledge")
	knowledge.Use(auth.RequireAuth())

	tenant := knowledge.Group("/:tenantID")
	tenant.Use(auth.RequireTenantAccess())
	{
		tenant.POST("/documents", auth.RequireRole(middleware.RoleTeacher), h.UploadDocument)
		tenant.POST("/documents/batch", auth.RequireRole(middleware.RoleTeacher), h.UploadBatch)
		tenant.GET("/documents", h.ListDocuments)
		tenant.GET("/search", h.Search)
		tenant.POST("/ask", h.Ask)
		tenant.GET("/stats", h.Stats)
		tenant.GET("/health", h.Health)
		tenant.GET("/chunks", h.ListChunks)
		tenant.GET("/export", auth.RequireRole(middleware.RoleTeacher), h.Export)
		tenant.POST("/reprocess", auth.RequireRole(middleware.RoleTeacher), h.Reprocess)
		tenant.POST("/reimport", auth.RequireRole(middleware.RoleTeacher), h.Reimport)
		tenant.DELETE("", auth.RequireRole(middleware.RoleTeacher), h.DeleteTenant)
	}

	// Chunk ids are globally unique, so chunk edits live outside the
	// tenant-scoped group.
	chunks := router.Group("/chunks")
	chunks.Use(auth.RequireAuth(), auth.RequireRole(middleware.RoleTeacher))
	{
		chunks.PUT("/:chunkID", h.UpdateChunk)
		chunks.DELETE("/:chunkID", h.DeleteChunk)
	}
}

// UploadDocument ingests one file. Small files process synchronously; larger
// ones are staged and handed to the worker queue.
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.RespondWithBadRequest(c, "file field is required", nil)
		return
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxFileSize), nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		utils.RespondWithInternalError(c, "failed to read upload", nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		utils.RespondWithInternalError(c, "failed to read upload", nil)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	description := c.PostForm("description")

	// Large uploads go through the queue so the request returns quickly.
	if h.queueClient != nil && fileHeader.Size > h.cfg.SyncProcessingLimit {
		h.enqueueIngest(c, tenantID, fileHeader.Filename, contentType, description, content)
		return
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), tenantID, models.IngestFile{
		Name:        fileHeader.Filename,
		ContentType: contentType,
		Content:     content,
		Description: description,
	})
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (h *KnowledgeHandler) enqueueIngest(c *gin.Context, tenantID int64, name, contentType, description string, content []byte) {
	if err := os.MkdirAll(h.cfg.StagingDir, 0o755); err != nil {
		utils.RespondWithInternalError(c, "failed to stage upload", nil)
		return
	}
	stagedPath := filepath.Join(h.cfg.StagingDir, uuid.NewString())
	if err := os.WriteFile(stagedPath, content, 0o644); err != nil {
		utils.RespondWithInternalError(c, "failed to stage upload", nil)
		return
	}

	task, err := queue.NewIngestTask(queue.IngestPayload{
		TenantID:    tenantID,
		FileName:    name,
		ContentType: contentType,
		StagedPath:  stagedPath,
		Description: description,
	})
	if err != nil {
		utils.RespondWithInternalError(c, "failed to create task", nil)
		return
	}
	info, err := h.queueClient.Enqueue(task)
	if err != nil {
		os.Remove(stagedPath)
		utils.RespondWithServiceError(c, err)
		return
	}

	logger.Info("Ingest task enqueued", "tenant_id", tenantID, "file", name, "task_id", info.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "queued",
		"task_id": info.ID,
		"message": "document queued for processing",
	})
}

// UploadBatch ingests several files in one request. Files fail independently.
func (h *KnowledgeHandler) UploadBatch(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	form, err := c.MultipartForm()
	if err != nil {
		utils.RespondWithBadRequest(c, "multipart form required", nil)
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		utils.RespondWithBadRequest(c, "files field is required", nil)
		return
	}

	files := make([]models.IngestFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > h.cfg.MaxFileSize {
			files = append(files, models.IngestFile{Name: fh.Filename})
			continue
		}
		f, err := fh.Open()
		if err != nil {
			files = append(files, models.IngestFile{Name: fh.Filename})
			continue
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			files = append(files, models.IngestFile{Name: fh.Filename})
			continue
		}
		files = append(files, models.IngestFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	batch, err := h.pipeline.IngestBatch(c.Request.Context(), tenantID, files)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	docs, err := h.documents.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "documents": docs})
}

// Search runs a similarity query over the tenant's knowledge.
// include_base=true widens the search with the shared base pool.
func (h *KnowledgeHandler) Search(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	query := c.Query("q")
	if query == "" {
		utils.RespondWithBadRequest(c, "q parameter is required", nil)
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "0"))
	includeBase := c.DefaultQuery("include_base", "true") == "true"

	hits, err := h.retriever.Search(c.Request.Context(), tenantID, query, topK, includeBase)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "hits": hits, "count": len(hits)})
}

func (h *KnowledgeHandler) Ask(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "invalid request body", gin.H{"error": err.Error()})
		return
	}
	if req.Question == "" {
		utils.RespondWithBadRequest(c, "question is required", nil)
		return
	}

	resp, err := h.retriever.Ask(c.Request.Context(), tenantID, req)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *KnowledgeHandler) Stats(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	stats, err := h.lifecycle.Stats(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *KnowledgeHandler) Health(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	health, err := h.lifecycle.Health(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (h *KnowledgeHandler) ListChunks(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	chunks, err := h.lifecycle.ListChunks(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "chunks": chunks, "count": len(chunks)})
}

// Export streams the tenant's chunk inventory as JSON or an Excel workbook.
func (h *KnowledgeHandler) Export(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	format := services.ExportJSON
	if c.DefaultQuery("format", "json") == "excel" {
		format = services.ExportExcel
	}

	resp, err := h.exporter.Export(c.Request.Context(), tenantID, format)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", resp.Filename))
	c.Data(http.StatusOK, resp.ContentType, resp.Data)
}

// Reprocess retries embedding for chunks stranded by earlier provider
// failures. With a queue it runs asynchronously.
func (h *KnowledgeHandler) Reprocess(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	if h.queueClient != nil {
		task, err := queue.NewReprocessTask(tenantID)
		if err != nil {
			utils.RespondWithInternalError(c, "failed to create task", nil)
			return
		}
		if _, err := h.queueClient.Enqueue(task); err != nil {
			utils.RespondWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	repaired, err := h.pipeline.ReprocessUnprocessed(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

// Reimport re-embeds and re-upserts vectors for all processed chunks of a
// tenant, rebuilding the index after an index loss.
func (h *KnowledgeHandler) Reimport(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	reimported, err := h.lifecycle.Reimport(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reimported": reimported})
}

func (h *KnowledgeHandler) UpdateChunk(c *gin.Context) {
	chunkID := c.Param("chunkID")

	var req models.UpdateChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "invalid request body", gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" {
		utils.RespondWithBadRequest(c, "content is required", nil)
		return
	}

	if err := h.lifecycle.UpdateChunk(c.Request.Context(), chunkID, req.Content); err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunk_id": chunkID, "status": "updated"})
}

func (h *KnowledgeHandler) DeleteChunk(c *gin.Context) {
	chunkID := c.Param("chunkID")

	if err := h.lifecycle.DeleteChunk(c.Request.Context(), chunkID); err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunk_id": chunkID, "status": "deleted"})
}

// DeleteTenant cascades over a tenant's vectors, chunks, and documents.
func (h *KnowledgeHandler) DeleteTenant(c *gin.Context) {
	tenantID := middleware.ResolvedTenantID(c)

	if tenantID == models.BaseTenantID && c.GetString("role") != middleware.RoleAdmin {
		utils.RespondWithForbidden(c, "Only admins may delete the base pool")
		return
	}

	if err := h.lifecycle.DeleteTenantKnowledge(c.Request.Context(), tenantID); err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "status": "deleted"})
}
