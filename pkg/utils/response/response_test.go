package response

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/json"
)

func TestErr(t *testing.T) {
	r := Err(errors.ErrInvalidParam.WithMessage("ptype is required"))
	assert.Equal(t, errors.ErrInvalidParam.Code, r.Code)
	assert.Equal(t, "ptype is required", r.Message)
	assert.Equal(t, http.StatusBadRequest, r.HTTPStatus())
	assert.False(t, r.IsSuccess())

	r = Err(stderrors.New("boom"))
	assert.Equal(t, errors.ErrInternal.Code, r.Code)
	assert.Equal(t, http.StatusInternalServerError, r.HTTPStatus())

	assert.True(t, Err(nil).IsSuccess())
}

func TestHTTPStatusFromRegistry(t *testing.T) {
	r := &Response{Code: errors.ErrNotFound.Code}
	assert.Equal(t, http.StatusNotFound, r.HTTPStatus())
}

func TestWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Write(c, nil, map[string]bool{"allowed": true})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Code int             `json:"code"`
		Data map[string]bool `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.Code)
	assert.True(t, body.Data["allowed"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Write(c, errors.ErrDatabase, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
