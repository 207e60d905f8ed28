package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
	"fixnearby-server/models"
)

type serviceChargeBody struct {
	VisitingCharge float64 `json:"visiting_charge" binding:"gte=0"`
}

func (a *api) registerRepairerRoutes(rg *gin.RouterGroup) {
	r := rg.Group("/repairer", a.can(authz.ResProfile, "manage"))
	r.GET("/profile", a.repairerProfile)
	r.PUT("/profile", a.updateRepairerProfile)
	r.POST("/profile/photo", a.uploadRepairerPhoto)
	r.PUT("/preferences", a.updatePreferences)
	r.POST("/services", a.addRepairerService)
	r.PUT("/services/:name", a.updateRepairerService)
	r.DELETE("/services/:name", a.removeRepairerService)
}

func (a *api) repairerProfile(c *gin.Context) {
	rep, err := a.Repairers.Profile(c.Request.Context(), middleware.Session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rep})
}

func (a *api) updateRepairerProfile(c *gin.Context) {
	var in models.RepairerProfileUpdate
	if !bindJSON(c, &in) {
		return
	}
	rep, err := a.Repairers.UpdateProfile(c.Request.Context(), middleware.Session(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "data": rep})
}

func (a *api) uploadRepairerPhoto(c *gin.Context) {
	header, err := c.FormFile("photo")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "Choose a photo to upload", "code": "VALIDATION", "field": "photo"})
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	rep, err := a.Repairers.UploadPhoto(c.Request.Context(), middleware.Session(c), file, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo updated", "data": rep})
}

func (a *api) updatePreferences(c *gin.Context) {
	var prefs models.RepairerPreferences
	if !bindJSON(c, &prefs) {
		return
	}
	rep, err := a.Repairers.UpdatePreferences(c.Request.Context(), middleware.Session(c), prefs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Preferences updated", "data": rep})
}

func (a *api) addRepairerService(c *gin.Context) {
	var svc models.RepairerService
	if !bindJSON(c, &svc) {
		return
	}
	rep, err := a.Repairers.AddService(c.Request.Context(), middleware.Session(c), svc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Service added", "data": rep})
}

func (a *api) updateRepairerService(c *gin.Context) {
	var body serviceChargeBody
	if !bindJSON(c, &body) {
		return
	}
	rep, err := a.Repairers.UpdateService(c.Request.Context(), middleware.Session(c), c.Param("name"), body.VisitingCharge)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service updated", "data": rep})
}

func (a *api) removeRepairerService(c *gin.Context) {
	rep, err := a.Repairers.RemoveService(c.Request.Context(), middleware.Session(c), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service removed", "data": rep})
}
