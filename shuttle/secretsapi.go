package shuttle

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"shuttleci.dev/core/shuttle/secrets"
)

type addSecretInput struct {
	Repo  string `json:"repo"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type removeSecretInput struct {
	Repo string `json:"repo"`
	Key  string `json:"key"`
}

type listSecretsOutput struct {
	Secrets []listedSecret `json:"secrets"`
}

type listedSecret struct {
	Repo      string `json:"repo"`
	Key       string `json:"key"`
	CreatedAt string `json:"createdAt"`
	CreatedBy string `json:"createdBy"`
}

// secret values never leave the vault through this surface, only the
// workflow engine reads them back unlocked
func (s *Shuttle) AddSecret(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "AddSecret")

	var data addSecretInput
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if data.Repo == "" {
		writeError(w, "empty repo", http.StatusBadRequest)
		return
	}

	if err := secrets.ValidateKey(data.Key); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	secret := secrets.UnlockedSecret{
		Repo:      secrets.Repo(data.Repo),
		Key:       data.Key,
		Value:     data.Value,
		CreatedAt: time.Now(),
		CreatedBy: "admin",
	}
	if err := s.vault.AddSecret(r.Context(), secret); err != nil {
		if errors.Is(err, secrets.ErrKeyAlreadyPresent) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		l.Error("failed to add secret to vault", "repo", data.Repo, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Shuttle) ListSecrets(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "ListSecrets")

	repo := r.URL.Query().Get("repo")
	if repo == "" {
		writeError(w, "empty repo", http.StatusBadRequest)
		return
	}

	ls, err := s.vault.GetSecretsLocked(r.Context(), secrets.Repo(repo))
	if err != nil {
		l.Error("failed to list secrets", "repo", repo, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := listSecretsOutput{Secrets: []listedSecret{}}
	for _, locked := range ls {
		out.Secrets = append(out.Secrets, listedSecret{
			Repo:      string(locked.Repo),
			Key:       locked.Key,
			CreatedAt: locked.CreatedAt.Format(time.RFC3339),
			CreatedBy: locked.CreatedBy,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func (s *Shuttle) RemoveSecret(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "RemoveSecret")

	var data removeSecretInput
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	err := s.vault.RemoveSecret(r.Context(), secrets.Secret[any]{
		Repo: secrets.Repo(data.Repo),
		Key:  data.Key,
	})
	if err != nil {
		if errors.Is(err, secrets.ErrKeyNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		l.Error("failed to remove secret from vault", "repo", data.Repo, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
