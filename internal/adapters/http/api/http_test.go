package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/foundlab/reputation/internal/adapters/http/api"
	app "github.com/foundlab/reputation/internal/app"
	"github.com/foundlab/reputation/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// newTestMux starts a service on the in-memory store and registers the full
// route table against it.
func newTestMux(ctx context.Context) (*http.ServeMux, *app.Service) {
	svc := app.New(app.WithWorkerCount(2), app.WithQueueSize(1000))
	if err := svc.Start(ctx); err != nil {
		panic(err)
	}
	mux := http.NewServeMux()
	server := api.NewServer(svc, svc, svc)
	server.Register(ctx, mux)
	return mux, svc
}

func doJSON(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServerRegister(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		Convey("Then the health endpoint serves metrics", func() {
			w := doJSON(mux, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And the stats endpoint returns service stats", func() {
			w := doJSON(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var stats map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["started"], ShouldBeTrue)
			So(stats, ShouldContainKey, "generatedAt")
			So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
		})

		Convey("And unknown paths return 404", func() {
			w := doJSON(mux, "GET", "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And wrong methods return 404", func() {
			w := doJSON(mux, "DELETE", "/scores", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestFlagEndpoints(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		flagBody := `{
			"name": "high_risk_country",
			"type": "boolean",
			"weight": -0.6,
			"conditions": [{"field": "country", "op": "in", "value": ["IR", "KP"]}]
		}`

		Convey("When creating a flag", func() {
			w := doJSON(mux, "POST", "/flags", flagBody)
			So(w.Code, ShouldEqual, http.StatusCreated)

			Convey("Then it can be fetched and listed", func() {
				w := doJSON(mux, "GET", "/flags/high_risk_country", "")
				So(w.Code, ShouldEqual, http.StatusOK)

				w = doJSON(mux, "GET", "/flags", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "high_risk_country")
			})

			Convey("And creating it again conflicts", func() {
				w := doJSON(mux, "POST", "/flags", flagBody)
				So(w.Code, ShouldEqual, http.StatusConflict)
			})

			Convey("And it can be updated", func() {
				w := doJSON(mux, "PUT", "/flags/high_risk_country", `{"weight": -0.5}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "-0.5")
			})

			Convey("And it can be deleted", func() {
				w := doJSON(mux, "DELETE", "/flags/high_risk_country", "")
				So(w.Code, ShouldEqual, http.StatusNoContent)

				w = doJSON(mux, "GET", "/flags/high_risk_country", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And applying flags reports evaluations", func() {
				w := doJSON(mux, "POST", "/flags/apply", `{
					"entity_id": "entity-1",
					"metadata": {"country": "IR"}
				}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "active_flags_summary")
			})
		})

		Convey("When creating a flag with an unknown operator", func() {
			w := doJSON(mux, "POST", "/flags", `{
				"name": "bad",
				"type": "boolean",
				"conditions": [{"field": "x", "op": "matches", "value": 1}]
			}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When creating a flag with an invalid type", func() {
			w := doJSON(mux, "POST", "/flags", `{"name": "bad", "type": "enum"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestScoreEndpoints(t *testing.T) {
	Convey("Given a registered API server with a flag", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		w := doJSON(mux, "POST", "/flags", `{
			"name": "verified_identity",
			"type": "boolean",
			"weight": 0.2,
			"conditions": [{"field": "kyc_verified", "op": "eq", "value": true}]
		}`)
		So(w.Code, ShouldEqual, http.StatusCreated)

		Convey("When computing a score", func() {
			w := doJSON(mux, "POST", "/scores", `{
				"entity_id": "entity-1",
				"metadata": {"kyc_verified": true}
			}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			var record struct {
				ID    string  `json:"id"`
				Value float64 `json:"value"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &record), ShouldBeNil)
			So(record.Value, ShouldAlmostEqual, 0.7)

			Convey("Then the record is retrievable by id", func() {
				w := doJSON(mux, "GET", "/scores/"+record.ID, "")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And history lists it newest first", func() {
				w := doJSON(mux, "GET", "/scores/entity/entity-1?limit=5", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, record.ID)
			})
		})

		Convey("When the entity id is missing", func() {
			w := doJSON(mux, "POST", "/scores", `{"metadata": {}}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the base score is out of range", func() {
			w := doJSON(mux, "POST", "/scores", `{"entity_id": "e", "base_score": 1.5}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When fetching an unknown score", func() {
			w := doJSON(mux, "GET", "/scores/missing", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSentinelaEndpoints(t *testing.T) {
	Convey("Given a registered API server with a trigger", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		w := doJSON(mux, "POST", "/sentinela/triggers", `{
			"name": "low_score",
			"severity": "high",
			"conditions": [{"field": "score", "op": "lte", "value": 0.2}]
		}`)
		So(w.Code, ShouldEqual, http.StatusCreated)

		Convey("When assessing an entity with a low score", func() {
			w := doJSON(mux, "POST", "/scores", `{"entity_id": "entity-1", "base_score": 0.1}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			w = doJSON(mux, "POST", "/sentinela/assess", `{"entity_id": "entity-1"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			var assessment struct {
				OverallLevel  string `json:"overall_level"`
				RequiresHuman bool   `json:"requires_human"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &assessment), ShouldBeNil)
			So(assessment.OverallLevel, ShouldEqual, "high")
			So(assessment.RequiresHuman, ShouldBeTrue)

			Convey("Then the assessment history lists it", func() {
				w := doJSON(mux, "GET", "/sentinela/assessments/entity-1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "low_score")
			})
		})

		Convey("When assessing an entity with no scores", func() {
			w := doJSON(mux, "POST", "/sentinela/assess", `{"entity_id": "fresh"}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When creating a trigger with an unknown severity", func() {
			w := doJSON(mux, "POST", "/sentinela/triggers", `{
				"name": "bad",
				"severity": "extreme",
				"conditions": [{"field": "score", "op": "gt", "value": 0.5}]
			}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When managing trigger definitions", func() {
			w := doJSON(mux, "GET", "/sentinela/triggers/low_score", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			w = doJSON(mux, "PUT", "/sentinela/triggers/low_score", `{
				"severity": "critical",
				"conditions": [{"field": "score", "op": "lte", "value": 0.1}]
			}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "critical")

			w = doJSON(mux, "DELETE", "/sentinela/triggers/low_score", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
		})
	})
}

func TestSherlockEndpoints(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		Convey("When validating a sanctioned entity", func() {
			w := doJSON(mux, "POST", "/sherlock/validate", `{
				"entity_id": "0xsanctioned_entity",
				"entity_type": "wallet"
			}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Body.String(), ShouldContainSubstring, "sanctioned")
			So(w.Body.String(), ShouldContainSubstring, "block")

			Convey("Then the results are listed by entity", func() {
				w := doJSON(mux, "GET", "/sherlock/results/0xsanctioned_entity", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "OFAC_SDN_Match")
			})
		})

		Convey("When the entity type is missing", func() {
			w := doJSON(mux, "POST", "/sherlock/validate", `{"entity_id": "0xabc"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestSigilEndpoint(t *testing.T) {
	Convey("Given a registered API server with a computed score", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		w := doJSON(mux, "POST", "/scores", `{"entity_id": "0xabcdef1234", "base_score": 0.9}`)
		So(w.Code, ShouldEqual, http.StatusCreated)
		var record struct {
			ID string `json:"id"`
		}
		So(json.Unmarshal(w.Body.Bytes(), &record), ShouldBeNil)

		Convey("When generating sigil metadata", func() {
			w := doJSON(mux, "POST", "/nft/metadata", fmt.Sprintf(`{
				"entity_id": "0xabcdef1234",
				"score_id": %q
			}`, record.ID))
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Body.String(), ShouldContainSubstring, "Ready for minting")
			So(w.Body.String(), ShouldContainSubstring, "FoundLab Sigil")
		})

		Convey("When the score belongs to another entity", func() {
			w := doJSON(mux, "POST", "/nft/metadata", fmt.Sprintf(`{
				"entity_id": "someone-else",
				"score_id": %q
			}`, record.ID))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "entity_mismatch")
		})

		Convey("When the background color is malformed", func() {
			w := doJSON(mux, "POST", "/nft/metadata", fmt.Sprintf(`{
				"entity_id": "0xabcdef1234",
				"score_id": %q,
				"background_color": "blue"
			}`, record.ID))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestGasEndpoints(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		Convey("When ingesting gas records", func() {
			for i := 0; i < 5; i++ {
				w := doJSON(mux, "POST", "/gasmonitor/records", `{
					"entity_id": "entity-1",
					"transaction_hash": "0xbase",
					"gas_used": 50000
				}`)
				So(w.Code, ShouldEqual, http.StatusCreated)
			}
			w := doJSON(mux, "POST", "/gasmonitor/records", `{
				"entity_id": "entity-1",
				"transaction_hash": "0xspike",
				"gas_used": 1000000
			}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			Convey("Then analysis flags the spike", func() {
				w := doJSON(mux, "POST", "/gasmonitor/analyze", `{"entity_id": "entity-1"}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "high_gas_spike")
			})

			Convey("And records are listed by entity", func() {
				w := doJSON(mux, "GET", "/gasmonitor/records/entity-1?limit=3", "")
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When analyzing an entity without records", func() {
			w := doJSON(mux, "POST", "/gasmonitor/analyze", `{"entity_id": "empty"}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the gas amount is not positive", func() {
			w := doJSON(mux, "POST", "/gasmonitor/records", `{
				"entity_id": "entity-1",
				"transaction_hash": "0x1",
				"gas_used": 0
			}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAuditTrail(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		ctx := context.Background()
		mux, svc := newTestMux(ctx)
		defer svc.Stop()

		Convey("When an audited endpoint is hit", func() {
			w := doJSON(mux, "POST", "/scores", `{"entity_id": "entity-1"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			Convey("Then a signed event appears in the audit trail", func() {
				deadline := time.Now().Add(2 * time.Second)
				var body string
				for time.Now().Before(deadline) {
					w := doJSON(mux, "GET", "/audit?limit=10", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					body = w.Body.String()
					if strings.Contains(body, "POST /scores") {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(body, ShouldContainSubstring, "POST /scores")
				So(body, ShouldContainSubstring, "signature")
				So(body, ShouldContainSubstring, "entity-1")

				Convey("And the entity filter scopes the listing", func() {
					w := doJSON(mux, "GET", "/audit?entity=entity-1&limit=10", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					So(w.Body.String(), ShouldContainSubstring, "POST /scores")

					w = doJSON(mux, "GET", "/audit?entity=nobody&limit=10", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					So(w.Body.String(), ShouldNotContainSubstring, "POST /scores")
				})
			})
		})
	})
}
