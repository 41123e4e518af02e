package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jask/jaskledger/internal/api/middleware"
	"github.com/jask/jaskledger/internal/normalize"
	"github.com/jask/jaskledger/internal/rowsource"
)

// maxUploadBytes bounds a multipart upload held in memory.
const maxUploadBytes = 32 << 20

// uploadImport accepts a multipart "file" field (CSV or XLSX) or a JSON body
// with pre-parsed rows.
func (h *handler) uploadImport(c *gin.Context) {
	var (
		filename string
		tbl      rowsource.Table
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "missing file: "+err.Error())
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "open file: "+err.Error())
			return
		}
		defer f.Close()
		if tbl, err = rowsource.Read(fh.Filename, f); err != nil {
			badRequest(c, err.Error())
			return
		}
		filename = fh.Filename
	} else {
		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		filename = req.Filename
		tbl = rowsource.Table{Headers: req.Headers, Rows: req.Rows}
	}

	res, err := h.imports.Upload(c.Request.Context(), middleware.OwnerID(c), filename, tbl)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, uploadResponse{
		Job:       toJob(res.Job),
		Preview:   res.Preview,
		Suggested: res.Suggested,
	})
}

func (h *handler) listImports(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	list, err := h.imports.List(c.Request.Context(), middleware.OwnerID(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toJob(j))
	}
	c.JSON(http.StatusOK, gin.H{"imports": out})
}

func (h *handler) importStatus(c *gin.Context) {
	rep, err := h.imports.Status(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatus(*rep))
}

func (h *handler) configureMapping(c *gin.Context) {
	var m normalize.Mapping
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	job, err := h.imports.ConfigureMapping(c.Request.Context(), c.Param("id"), middleware.OwnerID(c), m)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toJob(*job))
}

func (h *handler) previewImport(c *gin.Context) {
	rows, err := h.imports.Preview(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *handler) processImport(c *gin.Context) {
	job, err := h.imports.Process(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJob(*job))
}

func (h *handler) cancelImport(c *gin.Context) {
	job, err := h.imports.Cancel(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toJob(*job))
}
