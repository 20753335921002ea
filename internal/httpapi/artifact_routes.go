package httpapi

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// uploadArtifact is `POST /api/log/artifacts` (`satop.log.write`): on
// duplicate SHA-1 returns 200 with the hash, on a fresh upload returns 201
// with the record and a Location header (spec.md §4.G, §8 scenario 6).
func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	name := artifactName(r)

	rec, alreadyExisted, err := s.artifacts.Put(r.Context(), r.Body, name)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	if alreadyExisted {
		w.WriteHeader(http.StatusOK)
		return json.NewEncoder(w).Encode(map[string]string{"sha1": rec.SHA1})
	}

	w.Header().Set("Location", fmt.Sprintf("/api/log/artifacts/%s", rec.SHA1))
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(rec)
}

func artifactName(r *http.Request) string {
	if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
		if name, ok := params["filename"]; ok {
			return name
		}
	}
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return "upload.bin"
}

// downloadArtifact is `GET /api/log/artifacts/{sha1}` (`satop.log.read`):
// returns binary content or 404.
func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	rec, data, err := s.artifacts.Read(r.Context(), p.ByName("sha1"))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, rec.Name))
	w.WriteHeader(http.StatusOK)
	_, werr := w.Write(data)
	return werr
}
