package modules

import "github.com/go-chi/chi/v5"

type Module interface {
	Start()
	Shutdown()
	Route(r chi.Router)
}
