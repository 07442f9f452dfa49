package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/service"
)

// PosterHandler serves the poster lifecycle and feed endpoints.
type PosterHandler struct {
	posters *service.PosterService
	images  *service.ImageService
}

func NewPosterHandler(posters *service.PosterService, images *service.ImageService) *PosterHandler {
	return &PosterHandler{posters: posters, images: images}
}

// ----- DTOs -----

type imageResp struct {
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	URL              string    `json:"url"`
	FileSize         int64     `json:"file_size"`
	ContentType      string    `json:"content_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
	PosterID         *uint64   `json:"poster_id,omitempty"`
}

type posterResp struct {
	ID        uint64        `json:"id"`
	Username  string        `json:"username"`
	Message   string        `json:"message"`
	Privacy   model.Privacy `json:"privacy"`
	CreatedAt time.Time     `json:"created_at"`
	IsDeleted bool          `json:"is_deleted"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
	Images    []imageResp   `json:"images"`
}

type archivedResp struct {
	ID                uint64        `json:"id"`
	OriginalID        uint64        `json:"original_id"`
	Username          string        `json:"username"`
	Message           string        `json:"message"`
	OriginalImagePath string        `json:"original_image_path"`
	ImageFilename     string        `json:"image_filename"`
	Privacy           model.Privacy `json:"privacy"`
	CreatedAt         time.Time     `json:"created_at"`
	DeletedAt         time.Time     `json:"deleted_at"`
	ArchivedAt        time.Time     `json:"archived_at"`
}

func toImageResp(images *service.ImageService, img model.Image) imageResp {
	return imageResp{
		Filename:         img.Filename,
		OriginalFilename: img.OriginalFilename,
		URL:              images.URL(img),
		FileSize:         img.FileSize,
		ContentType:      img.ContentType,
		UploadedAt:       img.UploadedAt,
		PosterID:         img.PosterID,
	}
}

func toPosterResp(images *service.ImageService, p *model.Poster) posterResp {
	out := posterResp{
		ID:        p.ID,
		Username:  p.Username,
		Message:   p.Message,
		Privacy:   p.Privacy,
		CreatedAt: p.CreatedAt,
		IsDeleted: p.IsDeleted,
		DeletedAt: p.DeletedAt,
		Images:    make([]imageResp, 0, len(p.Images)),
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, toImageResp(images, img))
	}
	return out
}

func toPosterList(images *service.ImageService, ps []model.Poster) []posterResp {
	out := make([]posterResp, 0, len(ps))
	for i := range ps {
		out = append(out, toPosterResp(images, &ps[i]))
	}
	return out
}

func toArchivedResp(a *model.ArchivedPoster) archivedResp {
	return archivedResp{
		ID:                a.ID,
		OriginalID:        a.OriginalID,
		Username:          a.Username,
		Message:           a.Message,
		OriginalImagePath: a.OriginalImagePath,
		ImageFilename:     a.ImageFilename,
		Privacy:           a.Privacy,
		CreatedAt:         a.CreatedAt,
		DeletedAt:         a.DeletedAt,
		ArchivedAt:        a.ArchivedAt,
	}
}

// ----- helpers -----

func posterID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.ErrPosterNotFound
	}
	return id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.Validation(name + " must be an integer")
	}
	return n, nil
}

// readUploads loads every file sent under field. Each read stops one byte
// past max so oversized files are still reported as too large.
func readUploads(files []*multipart.FileHeader, max int64) ([]service.ImageUpload, error) {
	out := make([]service.ImageUpload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, apperror.Validation("cannot read uploaded file " + fh.Filename)
		}
		data, err := io.ReadAll(io.LimitReader(f, max+1))
		_ = f.Close()
		if err != nil {
			return nil, apperror.Validation("cannot read uploaded file " + fh.Filename)
		}
		out = append(out, service.ImageUpload{
			OriginalFilename: fh.Filename,
			ContentType:      fh.Header.Get(echo.HeaderContentType),
			Data:             data,
		})
	}
	return out, nil
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// ----- endpoints -----

// List returns the feed visible to the caller, newest first.
func (h *PosterHandler) List(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return respondError(c, err)
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	ps, err := h.posters.ListVisible(ctx, middleware.Username(c), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterList(h.images, ps))
}

// Get returns one poster if the caller may see it.
func (h *PosterHandler) Get(c echo.Context) error {
	id, err := posterID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := h.posters.GetDetail(ctx, id, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterResp(h.images, p))
}

// Create accepts multipart fields message, privacy and zero or more
// images files.
func (h *PosterHandler) Create(c echo.Context) error {
	in := service.CreatePosterInput{
		Owner:   middleware.Username(c),
		Message: c.FormValue("message"),
		Privacy: c.FormValue("privacy"),
	}
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return respondError(c, apperror.Validation("invalid multipart form"))
		}
		if in.Images, err = readUploads(form.File["images"], h.images.MaxFileSize()); err != nil {
			return respondError(c, err)
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := h.posters.Create(ctx, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toPosterResp(h.images, p))
}

type editReq struct {
	Message *string `json:"message"`
	Privacy *string `json:"privacy"`
}

// Edit applies a partial update. Multipart requests may also replace the
// images; JSON requests change message and privacy only.
func (h *PosterHandler) Edit(c echo.Context) error {
	id, err := posterID(c)
	if err != nil {
		return respondError(c, err)
	}

	var in service.EditPosterInput
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return respondError(c, apperror.Validation("invalid multipart form"))
		}
		if v, ok := form.Value["message"]; ok && len(v) > 0 {
			in.Message = &v[0]
		}
		if v, ok := form.Value["privacy"]; ok && len(v) > 0 {
			in.Privacy = &v[0]
		}
		if files := form.File["images"]; len(files) > 0 {
			if in.Images, err = readUploads(files, h.images.MaxFileSize()); err != nil {
				return respondError(c, err)
			}
		}
	} else {
		var req editReq
		if err := c.Bind(&req); err != nil {
			return respondError(c, apperror.Validation("invalid request body"))
		}
		in.Message, in.Privacy = req.Message, req.Privacy
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := h.posters.Edit(ctx, id, middleware.Username(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterResp(h.images, p))
}

// Delete moves a poster to the owner's trash.
func (h *PosterHandler) Delete(c echo.Context) error {
	id, err := posterID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.posters.Delete(ctx, id, middleware.Username(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "poster moved to trash"})
}

// Restore brings a trashed poster back.
func (h *PosterHandler) Restore(c echo.Context) error {
	id, err := posterID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := h.posters.Restore(ctx, id, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterResp(h.images, p))
}

// HardDelete archives and permanently removes a trashed poster.
func (h *PosterHandler) HardDelete(c echo.Context) error {
	id, err := posterID(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	a, err := h.posters.HardDelete(ctx, id, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "poster permanently deleted",
		"archived": toArchivedResp(a),
	})
}

// ListTrash lists the caller's soft-deleted posters.
func (h *PosterHandler) ListTrash(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	ps, err := h.posters.ListTrash(ctx, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterList(h.images, ps))
}

// EmptyTrash archives and removes everything in the caller's trash.
func (h *PosterHandler) EmptyTrash(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.posters.HardDeleteAllTrash(ctx, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "trash emptied",
		"deleted": n,
	})
}

// ListArchived lists the caller's archive snapshots.
func (h *PosterHandler) ListArchived(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	as, err := h.posters.ListArchived(ctx, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	out := make([]archivedResp, 0, len(as))
	for i := range as {
		out = append(out, toArchivedResp(&as[i]))
	}
	return c.JSON(http.StatusOK, out)
}
