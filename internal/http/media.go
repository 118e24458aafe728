package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/media"
)

const multipartMemory = 8 << 20

type uploadRequest struct {
	Image  string `json:"image"`
	Folder string `json:"folder"`
}

type uploadResponse struct {
	SecureURL string `json:"secureUrl"`
	PublicID  string `json:"publicId"`
	Folder    string `json:"folder"`
}

// badgeTemplateUploadResponse keeps the field names the badge designer UI
// has always read.
type badgeTemplateUploadResponse struct {
	URL                string `json:"url"`
	CloudinaryURL      string `json:"cloudinaryUrl"`
	CloudinaryPublicID string `json:"cloudinaryPublicId"`
}

type deleteAssetRequest struct {
	SecureURL    string `json:"secureUrl"`
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType"`
}

type deleteAssetResponse struct {
	Success  bool   `json:"success"`
	Deleted  bool   `json:"deleted"`
	Skipped  bool   `json:"skipped,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	payload, folder, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if folder == "" {
		folder = s.opts.DefaultFolder
	}
	ref, ok := s.upload(w, r, payload, folder)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{SecureURL: ref.SecureURL, PublicID: ref.PublicID, Folder: ref.Folder})
}

func (s *Server) handleBadgeTemplateUpload(w http.ResponseWriter, r *http.Request) {
	payload, _, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	ref, ok := s.upload(w, r, payload, badgeTemplatesFolder)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, badgeTemplateUploadResponse{
		URL:                ref.SecureURL,
		CloudinaryURL:      ref.SecureURL,
		CloudinaryPublicID: ref.PublicID,
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, payload media.Payload, folder string) (media.Reference, bool) {
	ref, err := s.assets.Upload(r.Context(), media.UploadRequest{Payload: payload, Folder: folder})
	if err == nil {
		s.logger.WithField("publicId", ref.PublicID).Info(r.Context(), "media asset uploaded")
		return ref, true
	}

	var upstream *media.UpstreamError
	switch {
	case errors.Is(err, media.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", err.Error())
	case errors.Is(err, media.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid upload", err.Error())
	case errors.As(err, &upstream):
		s.logger.WithError(err).Error(r.Context(), "media upload failed")
		writeError(w, http.StatusInternalServerError, "Upload failed", upstream.Message)
	default:
		s.logger.WithError(err).Error(r.Context(), "media upload failed")
		writeError(w, http.StatusInternalServerError, "Upload failed", "Internal server error")
	}
	return media.Reference{}, false
}

// readUpload accepts either a JSON body {image, folder} with a data URI or a
// multipart form with an "image" file (or data URI field) and "folder".
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (media.Payload, string, bool) {
	// data URIs inflate by 4/3; leave room for the envelope
	limit := s.opts.MaxUploadBytes/3*4 + 64<<10
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var (
		payload media.Payload
		folder  string
		err     error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		payload, folder, err = readMultipartUpload(r)
	} else {
		var req uploadRequest
		err = decodeJSON(r, &req)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		payload, folder = media.DataURIPayload(req.Image), strings.TrimSpace(req.Folder)
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", "")
		return media.Payload{}, "", false
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return media.Payload{}, "", false
	case payload.Empty():
		writeError(w, http.StatusBadRequest, "No image provided", "")
		return media.Payload{}, "", false
	}
	return payload, folder, true
}

func readMultipartUpload(r *http.Request) (media.Payload, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return media.Payload{}, "", err
	}
	folder := strings.TrimSpace(r.FormValue("folder"))

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return media.DataURIPayload(r.FormValue("image")), folder, nil
	}
	if err != nil {
		return media.Payload{}, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return media.Payload{}, "", err
	}
	return media.BinaryPayload(data, header.Filename), folder, nil
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	var req deleteAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, deleteAssetResponse{Message: "Invalid request body"})
		return
	}
	req.SecureURL = strings.TrimSpace(req.SecureURL)
	req.PublicID = strings.TrimSpace(req.PublicID)
	if req.SecureURL == "" && req.PublicID == "" {
		writeJSON(w, http.StatusBadRequest, deleteAssetResponse{Message: "secureUrl or publicId is required"})
		return
	}

	var (
		outcome media.DeleteOutcome
		err     error
	)
	if req.SecureURL != "" {
		outcome, err = media.DeleteByURL(r.Context(), s.assets, req.SecureURL)
	} else {
		var result media.DeleteResult
		result, err = s.assets.DeleteResource(r.Context(), req.ResourceType, req.PublicID)
		outcome = media.DeleteOutcome{PublicID: req.PublicID, Deleted: result.Deleted}
	}

	if errors.Is(err, media.ErrValidation) {
		writeJSON(w, http.StatusBadRequest, deleteAssetResponse{PublicID: outcome.PublicID, Message: err.Error()})
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("publicId", outcome.PublicID).Error(r.Context(), "media delete failed")
		message := "Internal server error"
		var upstream *media.UpstreamError
		if errors.As(err, &upstream) {
			message = upstream.Message
		}
		writeJSON(w, http.StatusInternalServerError, deleteAssetResponse{PublicID: outcome.PublicID, Message: message})
		return
	}
	if outcome.Skipped {
		s.logger.WithField("secureUrl", req.SecureURL).Warn(r.Context(), "media reference not resolvable, delete skipped")
		writeJSON(w, http.StatusOK, deleteAssetResponse{
			Success: true,
			Skipped: true,
			Message: "Asset reference could not be resolved; nothing deleted",
		})
		return
	}
	writeJSON(w, http.StatusOK, deleteAssetResponse{Success: true, Deleted: outcome.Deleted, PublicID: outcome.PublicID})
}
