package handler

import (
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/service"
)

// ImageHandler serves standalone image uploads.
type ImageHandler struct {
	images *service.ImageService
}

func NewImageHandler(images *service.ImageService) *ImageHandler {
	return &ImageHandler{images: images}
}

// Upload stores the multipart file field "file".
func (h *ImageHandler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return respondError(c, apperror.Validation("file is required"))
	}
	ups, err := readUploads([]*multipart.FileHeader{fh}, h.images.MaxFileSize())
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	img, err := h.images.Upload(ctx, middleware.Username(c), ups[0])
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toImageResp(h.images, *img))
}

// List returns the caller's images, newest first.
func (h *ImageHandler) List(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	imgs, err := h.images.ListByOwner(ctx, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	out := make([]imageResp, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageResp(h.images, img))
	}
	return c.JSON(http.StatusOK, out)
}

// Get returns the metadata of one of the caller's images.
func (h *ImageHandler) Get(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	img, err := h.images.Get(ctx, middleware.Username(c), c.Param("filename"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toImageResp(h.images, *img))
}

// Delete removes one of the caller's images.
func (h *ImageHandler) Delete(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.images.Delete(ctx, middleware.Username(c), c.Param("filename")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "image deleted"})
}
