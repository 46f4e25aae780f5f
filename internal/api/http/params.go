package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/api/middleware"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
)

func org(c *gin.Context) string {
	return middleware.Organisation(c)
}

// idParam reads and validates a path id
func idParam(c *gin.Context, name string) (string, error) {
	v := c.Param(name)
	if err := utils.ValidateID(v, name, true); err != nil {
		return "", errs.Validation(name, "%v", err)
	}
	return v, nil
}

func boolParam(c *gin.Context, name string) (bool, error) {
	v, err := strconv.ParseBool(c.Param(name))
	if err != nil {
		return false, errs.Validation(name, "must be true or false")
	}
	return v, nil
}

func boolQuery(c *gin.Context, name string, def bool) (bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errs.Validation(name, "must be true or false")
	}
	return v, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(name, "must be an integer")
	}
	return v, nil
}
