package serviceInfo

import "fmt"

type ServiceInfo string

var (
	SERVICE_NAME        ServiceInfo = "Bento Gohan Genotype Import Service"
	SERVICE_WELCOME     ServiceInfo = "Welcome to the Gohan genotype import API!"
	SERVICE_DESCRIPTION ServiceInfo = "Gohan genotype import engine: matrix, tabular, VCF and remote genotyping datasets merged into a shared variant store."
	SERVICE_CONTACT     ServiceInfo = "mailto:info@computationalgenomics.ca"

	SERVICE_ARTIFACT    ServiceInfo = "gohan-genotypes"
	SERVICE_VERSION     ServiceInfo = "0.1.0"
	SERVICE_TYPE_NO_VER ServiceInfo = ServiceInfo(fmt.Sprintf("ca.c3g.bento:%s", SERVICE_ARTIFACT))
	SERVICE_ID          ServiceInfo = SERVICE_TYPE_NO_VER
	SERVICE_TYPE        ServiceInfo = ServiceInfo(fmt.Sprintf("%s:%s", SERVICE_TYPE_NO_VER, SERVICE_VERSION))
)
