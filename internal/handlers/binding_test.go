package handlers

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/stretchr/testify/assert"
)

type movementBody struct {
	AssetID uint                `json:"asset_id"`
	Type    string              `json:"type"`
	To      *models.LocationRef `json:"to"`
}

func TestBindNestedOrFlat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	warehouse2 := &models.LocationRef{SiteID: "hq", LocationID: "Warehouse-2"}

	tests := []struct {
		name        string
		key         string
		body        string
		expected    movementBody
		expectError bool
	}{
		{
			name:     "Nested Structure",
			key:      "movement",
			body:     `{"movement": {"asset_id": 7, "type": "transfer", "to": {"site_id": "hq", "location_id": "Warehouse-2"}}}`,
			expected: movementBody{AssetID: 7, Type: "transfer", To: warehouse2},
		},
		{
			name:     "Flat Structure",
			key:      "movement",
			body:     `{"asset_id": 7, "type": "transfer", "to": {"site_id": "hq", "location_id": "Warehouse-2"}}`,
			expected: movementBody{AssetID: 7, Type: "transfer", To: warehouse2},
		},
		{
			name:     "Legacy free-text location",
			key:      "movement",
			body:     `{"asset_id": 7, "type": "transfer", "to": "hq/Warehouse-2"}`,
			expected: movementBody{AssetID: 7, Type: "transfer", To: warehouse2},
		},
		{
			name:     "Empty body",
			key:      "movement",
			body:     ``,
			expected: movementBody{},
		},
		{
			name:        "Invalid JSON",
			key:         "movement",
			body:        `{"asset_id": "seven"}`,
			expectError: true,
		},
		{
			name:        "Nested Key Present but Invalid Type",
			key:         "movement",
			body:        `{"movement": "some string"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var result movementBody
			err := BindNestedOrFlat(c, tt.key, &result)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}
