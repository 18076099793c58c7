package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/metrics"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

func healthActor(healthy bool) actor.Actor {
	return actor.ReceiveFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(domain.ActorHealthRequest); ok {
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		}
	})
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	healthy := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return healthActor(true) }))
	rec := serve(&Server{rootContext: as.Root, masterActor: healthy}, "/healthcheck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	unhealthy := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return healthActor(false) }))
	rec = serve(&Server{rootContext: as.Root, masterActor: unhealthy}, "/healthcheck")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewPrometheusCollector()
	collector.RecordMeterRead(2, true)

	rec := serve(&Server{gatherer: collector.Registry()}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dds238_meter_reads_total{address="2",result="ok"} 1`)

	rec = serve(&Server{}, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
