package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	Content  string `json:"content" binding:"required"`
	Priority int    `json:"priority" binding:"omitempty,min=1,max=10"`
}

func TestHandleBindError(t *testing.T) {
	SetupValidator()
	r := gin.New()
	r.Use(RequestID())
	r.POST("/", func(c *gin.Context) {
		var req bindTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleBindError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("validation details", func(t *testing.T) {
		w := serve(t, r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"priority":11}`)))
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		details, ok := resp.Error.Details.([]any)
		require.True(t, ok)
		require.Len(t, details, 2)
		first := details[0].(map[string]any)
		assert.Equal(t, "content", first["field"])
		assert.Equal(t, "This field is required", first["message"])
		second := details[1].(map[string]any)
		assert.Equal(t, "priority", second["field"])
		assert.Equal(t, "Must be at most 10", second["message"])
	})

	t.Run("malformed json", func(t *testing.T) {
		w := serve(t, r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeInvalidJSON)
	})
}
