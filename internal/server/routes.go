package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/wisun2metrics/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type meterInfo struct {
	Version     string  `json:"version"`
	MACAddr     string  `json:"mac_addr"`
	IPv6        string  `json:"ipv6"`
	Channel     string  `json:"channel"`
	ChannelPage string  `json:"channel_page"`
	PanID       string  `json:"pan_id"`
	PairID      string  `json:"pair_id"`
	LQI         uint8   `json:"lqi"`
	RSSI        float64 `json:"rssi"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/meter", s.MeterInfoHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	response, ok := res.(domain.ActorHealthResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, fmt.Sprintf("health_check: FAIL (%s)", response.State))
}

func (s *Server) MeterInfoHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetMeterInfoRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetMeterInfoResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.NotJoined() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, response.GetResponseError().Error())
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	link := response.Link
	return c.JSON(http.StatusOK, meterInfo{
		Version:     link.Version,
		MACAddr:     link.MACAddr,
		IPv6:        link.LinkLocalAddr,
		Channel:     link.Channel,
		ChannelPage: link.ChannelPage,
		PanID:       link.PanID,
		PairID:      link.PairID,
		LQI:         link.LQI,
		RSSI:        link.RSSI,
	})
}
