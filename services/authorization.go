package services

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gohan/genotypes/models"
	e "gohan/genotypes/models/dtos/errors"
	"gohan/genotypes/utils"

	"github.com/Jeffail/gabs"
	"github.com/labstack/echo"
)

var publicAuthzErrorMessage = "Something went wrong interfacing with the authorization service! Please contact the system administrators.."

type (
	AuthzService struct {
		isEnabled        bool
		authorizationUrl string
		client           *http.Client
		logger           *utils.Logger
	}
)

func NewAuthzService(cfg *models.Config, logger *utils.Logger) *AuthzService {
	return &AuthzService{
		isEnabled:        cfg.AuthX.IsAuthorizationEnabled,
		authorizationUrl: strings.TrimRight(cfg.AuthX.AuthorizationUrl, "/"),
		client:           &http.Client{Timeout: 10 * time.Second},
		logger:           logger.OrNop().With("service", "AuthzService"),
	}
}

func (a *AuthzService) IsEnabled() bool {
	return a.isEnabled
}

// permissionRequest asks whether the bearer may ingest data on every resource.
func permissionRequest() []byte {
	body := gabs.New()
	body.SetP(true, "requested_resource.everything")
	body.Array("required_permissions")
	body.ArrayAppend("ingest:data", "required_permissions")
	return body.Bytes()
}

func (a *AuthzService) EnsureIngestPermittedForUser(authnToken string) error {
	evaluateUrl := fmt.Sprintf("%s/%s/%s", a.authorizationUrl, "policy", "evaluate")
	req, err := http.NewRequest(http.MethodPost, evaluateUrl, bytes.NewReader(permissionRequest()))
	if err != nil {
		a.logger.Error("building authorization request", "error", err)
		return errors.New(publicAuthzErrorMessage)
	}
	req.Header.Add("Authorization", "Bearer "+authnToken)
	req.Header.Add("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("calling authorization service", "error", err)
		return errors.New(publicAuthzErrorMessage)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return errors.New("access denied")
	}

	parsed, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		a.logger.Error("decoding authorization response", "error", err)
		return errors.New(publicAuthzErrorMessage)
	}
	result, ok := parsed.Path("result").Data().(bool)
	if !ok {
		a.logger.Error("missing 'result' key from authorization service response")
		return errors.New(publicAuthzErrorMessage)
	}
	if !result {
		return errors.New("access denied")
	}
	return nil
}

func (a *AuthzService) FetchAuthorizationHeader(headers http.Header) (string, error) {
	authnToken := headers.Get("Authorization")
	if authnToken == "" {
		return "", errors.New("missing 'Authorization' HTTP header")
	}
	if token, found := strings.CutPrefix(authnToken, "Bearer "); found {
		authnToken = token
	}
	return authnToken, nil
}

func (a *AuthzService) MandateAuthorizationTokensMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.IsEnabled() {
			authnToken, missingHeaderErr := a.FetchAuthorizationHeader(c.Request().Header)
			if missingHeaderErr != nil {
				return echo.NewHTTPError(http.StatusForbidden, missingHeaderErr.Error())
			}

			if accessError := a.EnsureIngestPermittedForUser(authnToken); accessError != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, e.CreateSimpleUnauthorized(accessError.Error()))
			}
		}
		return next(c)
	}
}
