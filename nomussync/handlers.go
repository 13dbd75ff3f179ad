package nomussync

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

// TriggerDiscoveryHandler starts one discovery round out of schedule.
func TriggerDiscoveryHandler(orchestrator *TenantDiscoveryOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		enqueued, err := orchestrator.RunOnce(c.Request.Context(), models.SyncTriggeredManual)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
	}
}

// TriggerTenantHandler enqueues a sync for one tenant by group id. The tenant
// is looked up in the registry so the task carries fresh credentials.
func TriggerTenantHandler(billing BillingAPI, publisher TaskPublisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		groupId, err := strconv.ParseInt(c.Param("tenantGroupId"), 10, 64)
		if err != nil || groupId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant group id"})
			return
		}

		tenants, err := billing.ListTenants(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		var tenant *Tenant
		for i := range tenants {
			if tenants[i].GroupId == groupId {
				tenant = &tenants[i]
				break
			}
		}
		if tenant == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not registered"})
			return
		}
		if strings.TrimSpace(tenant.HashToken) == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "tenant has no token"})
			return
		}

		payload := SyncTaskPayload{
			TenantGroupId:    tenant.GroupId,
			CompanyId:        tenant.CompanyId,
			CreditorDocument: tenant.CreditorDocument,
			HashToken:        tenant.HashToken,
			BaseUrl:          tenant.BaseUrl,
			FullSync:         c.Query("full") == "true",
			TriggeredBy:      models.SyncTriggeredManual,
			CorrelationId:    uuid.NewString(),
		}
		if err := publisher.Publish(c.Request.Context(), payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"tenant_group_id": tenant.GroupId,
			"correlation_id":  payload.CorrelationId,
		})
	}
}

// ListSyncRunsHandler returns sync-run history, newest first, optionally
// filtered by tenant.
func ListSyncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB().WithContext(c.Request.Context())

		limit := 50
		if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
			limit = v
		}
		query := db.Model(&models.SyncRun{}).Order("id DESC").Limit(limit)
		if v, err := strconv.ParseInt(c.Query("tenantGroupId"), 10, 64); err == nil && v > 0 {
			query = query.Where("tenant_group_id = ?", v)
		}
		if status := strings.TrimSpace(c.Query("status")); status != "" {
			query = query.Where("status = ?", status)
		}

		var runs []models.SyncRun
		if err := query.Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// GetSyncRunHandler returns one run with its record errors.
func GetSyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, err := strconv.ParseUint(c.Param("runId"), 10, 64)
		if err != nil || runId == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		var run models.SyncRun
		if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var recordErrors []models.SyncRecordError
		if err := db.Where("sync_run_id = ?", runId).Order("id ASC").Limit(1000).Find(&recordErrors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": recordErrors})
	}
}

// RegisterRoutes mounts the sync HTTP surface on the given router group.
func RegisterRoutes(r *gin.RouterGroup, orchestrator *TenantDiscoveryOrchestrator, billing BillingAPI, publisher TaskPublisher, worker *TenantSyncWorker) {
	r.POST("/sync/discovery", TriggerDiscoveryHandler(orchestrator))
	r.POST("/sync/tenants/:tenantGroupId", TriggerTenantHandler(billing, publisher))
	r.GET("/sync/runs", ListSyncRunsHandler())
	r.GET("/sync/runs/:runId", GetSyncRunHandler())
	r.POST("/sync/pubsub/push", PubSubPushHandler(worker))
}
